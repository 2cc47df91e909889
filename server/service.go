package server

import (
	"context"

	"github.com/golang/protobuf/ptypes/empty"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/golang/protobuf/ptypes/wrappers"
	"google.golang.org/grpc"
)

const (
	serviceName = "filestore.FileService"

	uploadMethod       = "/" + serviceName + "/Upload"
	deleteMethod       = "/" + serviceName + "/Delete"
	presignedURLMethod = "/" + serviceName + "/PresignedURL"
	downloadMethod     = "/" + serviceName + "/Download"
	uploadStreamMethod = "/" + serviceName + "/UploadStream"
)

// Metadata keys describing the object sent through UploadStream.
const (
	NameHeader        = "x-file-name"
	ExtHeader         = "x-file-ext"
	PrivateHeader     = "x-file-private"
	ContentTypeHeader = "x-file-content-type"
)

// FileServiceServer is the file service contract. Messages are protobuf
// well-known types:
//
//	Upload(Struct{path, original_name, private, content_type}) -> Struct{url, key}
//	Delete(StringValue key) -> Empty
//	PresignedURL(StringValue key) -> StringValue url
//	Download(StringValue key) -> stream BytesValue
//	UploadStream(stream BytesValue) -> Struct{url, key}
type FileServiceServer interface {
	Upload(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Delete(ctx context.Context, req *wrappers.StringValue) (*empty.Empty, error)
	PresignedURL(ctx context.Context, req *wrappers.StringValue) (*wrappers.StringValue, error)
	Download(req *wrappers.StringValue, stream grpc.ServerStream) error
	UploadStream(stream grpc.ServerStream) error
}

func RegisterFileServiceServer(s grpc.ServiceRegistrar, srv FileServiceServer) {
	s.RegisterService(&fileServiceDesc, srv)
}

var fileServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*FileServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Upload",
			Handler: unaryHandler(uploadMethod, func(s FileServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return s.Upload(ctx, req)
			}),
		},
		{
			MethodName: "Delete",
			Handler: unaryHandler(deleteMethod, func(s FileServiceServer, ctx context.Context, req *wrappers.StringValue) (*empty.Empty, error) {
				return s.Delete(ctx, req)
			}),
		},
		{
			MethodName: "PresignedURL",
			Handler: unaryHandler(presignedURLMethod, func(s FileServiceServer, ctx context.Context, req *wrappers.StringValue) (*wrappers.StringValue, error) {
				return s.PresignedURL(ctx, req)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Download",
			Handler:       downloadHandler,
			ServerStreams: true,
		},
		{
			StreamName:    "UploadStream",
			Handler:       uploadStreamHandler,
			ClientStreams: true,
		},
	},
}

func unaryHandler[Req, Resp any](method string, call func(FileServiceServer, context.Context, *Req) (*Resp, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(FileServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(FileServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func downloadHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(wrappers.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(FileServiceServer).Download(in, stream)
}

func uploadStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(FileServiceServer).UploadStream(stream)
}
