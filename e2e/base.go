package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"trade-chat/auth"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type BaseSuite struct {
	suite.Suite
	Config Config
	tokens *auth.TokenManager
	client *http.Client
}

// SetupSuite loads the environment configuration and skips when no server is configured.
func (s *BaseSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.BaseURL == "" || s.Config.JWTSecret == "" {
		s.T().Skip("E2E_BASE_URL and JWT_SECRET are required")
	}
	s.tokens = auth.NewTokenManager(s.Config.JWTSecret, time.Hour)
	s.client = &http.Client{Timeout: 10 * time.Second}
}

// Step prints a colorized header for a scenario step.
func (s *BaseSuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

func (s *BaseSuite) token(userID string) string {
	token, err := s.tokens.GenerateToken(userID)
	s.Require().NoError(err)
	return token
}

// Call sends body as JSON on behalf of userID and decodes the answer into out when out is non nil.
func (s *BaseSuite) Call(userID, method, path string, body any, out any) int {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequest(method, s.Config.BaseURL+path, reader)
	s.Require().NoError(err)
	request.Header.Set("Authorization", "Bearer "+s.token(userID))
	request.Header.Set("Content-Type", "application/json")

	start := time.Now()
	response, err := s.client.Do(request)
	s.Require().NoError(err)
	defer response.Body.Close()
	raw, err := io.ReadAll(response.Body)
	s.Require().NoError(err)

	line := fmt.Sprintf("HTTP %s %s [%d] in %v", method, path, response.StatusCode, time.Since(start))
	if s.Config.DebugJSON && len(raw) > 0 {
		line += "\nRESPONSE:\n" + string(raw)
	}
	s.T().Log(line)

	if out != nil && len(raw) > 0 && response.StatusCode < http.StatusBadRequest {
		s.Require().NoError(json.Unmarshal(raw, out))
	}
	return response.StatusCode
}

// Dial opens the live channel of userID.
func (s *BaseSuite) Dial(userID string) *websocket.Conn {
	url := strings.Replace(s.Config.BaseURL, "http", "ws", 1) + "/ws?access_token=" + s.token(userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	return conn
}

// WithHealth provides a gRPC health client within a contextual test step.
func (s *BaseSuite) WithHealth(name string, fn func(ctx context.Context, client healthpb.HealthClient)) {
	s.Step(name)
	conn, err := grpc.NewClient(s.Config.GrpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	s.Require().NoError(err, "Failed to connect to gRPC server at "+s.Config.GrpcAddr)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fn(ctx, healthpb.NewHealthClient(conn))
}
