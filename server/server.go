package server

import (
	"context"
	"errors"
	"io"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/engula/file-storage/storage"
	"github.com/go-logr/logr"
	"github.com/golang/protobuf/ptypes/empty"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/golang/protobuf/ptypes/wrappers"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const chunkSize = 32 * 1024

var (
	_ FileServiceServer = &Server{}
)

type Server struct {
	store storage.Storage
	log   logr.Logger
}

func NewServer(store storage.Storage, log logr.Logger) *Server {
	return &Server{store: store, log: log}
}

func (s *Server) Upload(ctx context.Context, req *structpb.Struct) (resp *structpb.Struct, err error) {
	fields := req.GetFields()
	file := storage.File{
		Path:         fields["path"].GetStringValue(),
		OriginalName: fields["original_name"].GetStringValue(),
		ContentType:  fields["content_type"].GetStringValue(),
	}
	if file.Path == "" || file.OriginalName == "" {
		err = status.Error(codes.InvalidArgument, "path and original_name are required")
		return
	}

	var result storage.UploadResult
	if fields["private"].GetBoolValue() {
		result, err = s.store.UploadProtected(ctx, file)
	} else {
		result, err = s.store.Upload(ctx, file)
	}
	if err != nil {
		err = storageStatus(err)
		return
	}
	resp = resultStruct(result)
	return
}

func (s *Server) Delete(ctx context.Context, req *wrappers.StringValue) (resp *empty.Empty, err error) {
	s.store.Delete(ctx, req.GetValue())
	resp = &empty.Empty{}
	return
}

func (s *Server) PresignedURL(ctx context.Context, req *wrappers.StringValue) (resp *wrappers.StringValue, err error) {
	resp = &wrappers.StringValue{Value: s.store.PresignedDownloadURL(req.GetValue())}
	return
}

func (s *Server) Download(req *wrappers.StringValue, stream grpc.ServerStream) (err error) {
	var r io.ReadCloser
	if r, err = s.store.DownloadStream(stream.Context(), req.GetValue()); err != nil {
		err = storageStatus(err)
		return
	}
	defer r.Close()

	buf := make([]byte, chunkSize)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if err = stream.SendMsg(&wrappers.BytesValue{Value: buf[:n]}); err != nil {
				return
			}
		}
		if rerr == io.EOF {
			return
		}
		if rerr != nil {
			err = rerr
			return
		}
	}
}

func (s *Server) UploadStream(stream grpc.ServerStream) (err error) {
	ctx := stream.Context()
	md, _ := metadata.FromIncomingContext(ctx)
	desc := storage.StreamDescriptor{
		Name:        firstValue(md, NameHeader),
		Ext:         firstValue(md, ExtHeader),
		ContentType: firstValue(md, ContentTypeHeader),
	}
	if desc.Name == "" {
		err = status.Errorf(codes.InvalidArgument, "%s metadata is required", NameHeader)
		return
	}
	if p := firstValue(md, PrivateHeader); p != "" {
		if desc.Private, err = strconv.ParseBool(p); err != nil {
			err = status.Errorf(codes.InvalidArgument, "%s: %v", PrivateHeader, err)
			return
		}
	}

	var up *storage.UploadStream
	if up, err = s.store.UploadStream(ctx, desc); err != nil {
		return
	}
	for {
		chunk := new(wrappers.BytesValue)
		if rerr := stream.RecvMsg(chunk); rerr == io.EOF {
			break
		} else if rerr != nil {
			s.log.Error(rerr, "upload stream aborted", "key", up.FileKey)
			up.Abort(rerr)
			err = rerr
			return
		}
		if _, werr := up.Write(chunk.GetValue()); werr != nil {
			// the upload already failed, Wait reports why
			break
		}
	}
	up.Close()
	if err = up.Wait(ctx); err != nil {
		return
	}
	err = stream.SendMsg(resultStruct(storage.UploadResult{URL: up.URL, Key: up.FileKey}))
	return
}

// storageStatus maps storage errors onto gRPC codes. Anything unrecognized stays Unknown.
func storageStatus(err error) error {
	switch {
	case errors.Is(err, storage.ErrInvalidPath):
		return status.Error(codes.InvalidArgument, err.Error())
	case isNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	}
	return err
}

func isNotFound(err error) bool {
	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

func resultStruct(result storage.UploadResult) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"url": stringValue(result.URL),
		"key": stringValue(result.Key),
	}}
}

func stringValue(s string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: s}}
}

func boolValue(b bool) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_BoolValue{BoolValue: b}}
}

func firstValue(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
