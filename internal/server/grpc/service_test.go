package grpc

import (
	"testing"

	pb "github.com/dmitrijs2005/stockauth/internal/proto"
	"github.com/dmitrijs2005/stockauth/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

func TestAuthServiceDescriptor(t *testing.T) {
	d, err := protoregistry.GlobalFiles.FindDescriptorByName(protoreflect.FullName(pb.AuthService_ServiceDesc.ServiceName))
	require.NoError(t, err)
	sd, ok := d.(protoreflect.ServiceDescriptor)
	require.True(t, ok)

	methods := sd.Methods()
	require.Equal(t, len(pb.AuthService_ServiceDesc.Methods), methods.Len())

	seen := map[string]bool{}
	for i := 0; i < methods.Len(); i++ {
		m := methods.Get(i)
		assert.False(t, m.IsStreamingClient() || m.IsStreamingServer(), m.Name())
		seen["/"+string(sd.FullName())+"/"+string(m.Name())] = true
	}
	for method := range protectedMethods {
		assert.True(t, seen[method], method)
	}
}

func TestAuthResponse_Wire(t *testing.T) {
	got := authResponse(&models.User{ID: "u1", Name: "Ada", Email: "ada@example.com"}, "A1", "R1")

	b, err := proto.Marshal(got)
	require.NoError(t, err)

	var decoded pb.AuthResponse
	require.NoError(t, proto.Unmarshal(b, &decoded))

	want := &pb.AuthResponse{
		AccessToken:  "A1",
		RefreshToken: "R1",
		User:         &pb.User{Id: "u1", Name: "Ada", Email: "ada@example.com"},
	}
	assert.True(t, proto.Equal(want, &decoded), decoded.String())
}
