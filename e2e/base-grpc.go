package e2e

import (
	"chat-relay/auth"
	"chat-relay/infrastructure/grpc/client"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

type BaseGrpcSuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseGrpcSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.RelayAddr == "" {
		s.T().Skip("RELAY_ADDR is not set")
	}
	s.Require().NotEmpty(s.Config.JWTSecret, "JWT_SECRET must match the relay")
}

// logging prints every unary call, and the JSON bodies when E2E_DEBUG_JSON is enabled
func (s *BaseGrpcSuite) logging() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)

		logBuilder := strings.Builder{}
		fmt.Fprintf(&logBuilder, "GRPC %s [%s] in %v", method, status.Code(err), time.Since(start))
		if s.Config.DebugJSON {
			fmt.Fprintln(&logBuilder, "\nREQUEST:")
			fmt.Fprintln(&logBuilder, indent(req))
			if err != nil {
				fmt.Fprintln(&logBuilder, "ERROR:", err)
			} else {
				fmt.Fprintln(&logBuilder, "RESPONSE:")
				fmt.Fprintln(&logBuilder, indent(reply))
			}
		}
		s.T().Log(logBuilder.String())
		return err
	}
}

func indent(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err.Error()
	}
	return string(b)
}

// As runs fn with a client authenticated as viewerID, within a contextual test step
func (s *BaseGrpcSuite) As(name, viewerID string, fn func(ctx context.Context, chat *client.ChatClient)) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)

	token, err := auth.GenerateToken(s.Config.JWTSecret, viewerID, time.Hour)
	s.Require().NoError(err)
	chat, err := client.NewChatClient(s.Config.RelayAddr, token, grpc.WithUnaryInterceptor(s.logging()))
	s.Require().NoError(err, "Failed to connect to gRPC server at "+s.Config.RelayAddr)
	defer func() { _ = chat.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fn(ctx, chat)
}
