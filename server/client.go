package server

import (
	"context"
	"io"
	"strconv"

	"github.com/engula/file-storage/storage"
	"github.com/golang/protobuf/ptypes/empty"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/golang/protobuf/ptypes/wrappers"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Client talks to a FileService over an established connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Upload(ctx context.Context, file storage.File, private bool) (result storage.UploadResult, err error) {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		"path":          stringValue(file.Path),
		"original_name": stringValue(file.OriginalName),
		"content_type":  stringValue(file.ContentType),
		"private":       boolValue(private),
	}}
	out := new(structpb.Struct)
	if err = c.cc.Invoke(ctx, uploadMethod, in, out); err != nil {
		return
	}
	result = uploadResult(out)
	return
}

func (c *Client) Delete(ctx context.Context, fileKey string) (err error) {
	err = c.cc.Invoke(ctx, deleteMethod, &wrappers.StringValue{Value: fileKey}, new(empty.Empty))
	return
}

func (c *Client) PresignedURL(ctx context.Context, fileKey string) (url string, err error) {
	out := new(wrappers.StringValue)
	if err = c.cc.Invoke(ctx, presignedURLMethod, &wrappers.StringValue{Value: fileKey}, out); err != nil {
		return
	}
	url = out.GetValue()
	return
}

// Download copies the object to w and returns the number of bytes written.
func (c *Client) Download(ctx context.Context, fileKey string, w io.Writer) (n int64, err error) {
	var stream grpc.ClientStream
	if stream, err = c.cc.NewStream(ctx, &fileServiceDesc.Streams[0], downloadMethod); err != nil {
		return
	}
	if err = stream.SendMsg(&wrappers.StringValue{Value: fileKey}); err != nil {
		return
	}
	if err = stream.CloseSend(); err != nil {
		return
	}
	for {
		chunk := new(wrappers.BytesValue)
		if err = stream.RecvMsg(chunk); err == io.EOF {
			err = nil
			return
		} else if err != nil {
			return
		}
		var written int
		written, err = w.Write(chunk.GetValue())
		n += int64(written)
		if err != nil {
			return
		}
	}
}

// UploadStream sends everything read from r as one object described by desc.
func (c *Client) UploadStream(ctx context.Context, desc storage.StreamDescriptor, r io.Reader) (result storage.UploadResult, err error) {
	ctx = metadata.AppendToOutgoingContext(ctx,
		NameHeader, desc.Name,
		ExtHeader, desc.Ext,
		PrivateHeader, strconv.FormatBool(desc.Private),
		ContentTypeHeader, desc.ContentType,
	)
	var stream grpc.ClientStream
	if stream, err = c.cc.NewStream(ctx, &fileServiceDesc.Streams[1], uploadStreamMethod); err != nil {
		return
	}

	buf := make([]byte, chunkSize)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if err = stream.SendMsg(&wrappers.BytesValue{Value: buf[:n]}); err == io.EOF {
				// the server ended the call, RecvMsg carries the status
				break
			} else if err != nil {
				return
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			err = rerr
			return
		}
	}
	if err = stream.CloseSend(); err != nil {
		return
	}
	out := new(structpb.Struct)
	if err = stream.RecvMsg(out); err != nil {
		return
	}
	result = uploadResult(out)
	return
}

func uploadResult(s *structpb.Struct) storage.UploadResult {
	fields := s.GetFields()
	return storage.UploadResult{
		URL: fields["url"].GetStringValue(),
		Key: fields["key"].GetStringValue(),
	}
}
