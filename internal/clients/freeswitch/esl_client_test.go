package freeswitch

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockFreeSWITCH 模拟 FreeSWITCH 服务器
type mockFreeSWITCH struct {
	listener net.Listener
	password string
	events   []string
	commands chan string
}

func newMockFreeSWITCH(t *testing.T, password string, events ...string) *mockFreeSWITCH {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	mock := &mockFreeSWITCH{
		listener: listener,
		password: password,
		events:   events,
		commands: make(chan string, 8),
	}
	t.Cleanup(func() { listener.Close() })

	go mock.serve()
	return mock
}

func (m *mockFreeSWITCH) serve() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return
		}
		go m.handleConnection(conn)
	}
}

func (m *mockFreeSWITCH) readCommand(r *bufio.Reader) (string, error) {
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if len(lines) == 0 {
				continue
			}
			return strings.Join(lines, "\n"), nil
		}
		lines = append(lines, line)
	}
}

func (m *mockFreeSWITCH) handleConnection(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	// 发送欢迎消息
	fmt.Fprintf(conn, "Content-Type: auth/request\n\n")

	auth, err := m.readCommand(r)
	if err != nil {
		return
	}
	m.commands <- auth
	if auth != "auth "+m.password {
		fmt.Fprintf(conn, "Content-Type: command/reply\nReply-Text: -ERR invalid\n\n")
		return
	}
	fmt.Fprintf(conn, "Content-Type: command/reply\nReply-Text: +OK accepted\n\n")

	sub, err := m.readCommand(r)
	if err != nil {
		return
	}
	m.commands <- sub
	fmt.Fprintf(conn, "Content-Type: command/reply\nReply-Text: +OK event listener enabled plain\n\n")

	for _, body := range m.events {
		fmt.Fprintf(conn, "Content-Length: %d\nContent-Type: text/event-plain\n\n%s", len(body), body)
	}

	// 保持连接直到客户端关闭
	_, _ = r.ReadByte()
}

func (m *mockFreeSWITCH) config(t *testing.T) ESLConfig {
	host, portStr, err := net.SplitHostPort(m.listener.Addr().String())
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)
	return ESLConfig{Host: host, Port: port, Password: "ClueCon"}
}

func eventBody(name, uuid, callerName, number string) string {
	return fmt.Sprintf("Event-Name: %s\nUnique-ID: %s\nCaller-Caller-ID-Name: %s\nCaller-Caller-ID-Number: %s\nCall-Direction: inbound\n\n",
		name, uuid, strings.ReplaceAll(callerName, " ", "%20"), strings.ReplaceAll(number, "+", "%2B"))
}

func TestClientConnect(t *testing.T) {
	mock := newMockFreeSWITCH(t, "ClueCon")

	client := NewESLClient(mock.config(t), nil)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	assert.Equal(t, "auth ClueCon", <-mock.commands)
}

func TestClientConnectBadPassword(t *testing.T) {
	mock := newMockFreeSWITCH(t, "secret")

	client := NewESLClient(mock.config(t), nil)
	err := client.Connect(context.Background())
	assert.ErrorContains(t, err, "认证失败")
}

func TestClientSubscribeBeforeConnect(t *testing.T) {
	client := NewESLClient(ESLConfig{Host: "127.0.0.1", Port: 1}, nil)
	assert.ErrorIs(t, client.Subscribe("CHANNEL_CREATE"), ErrNotConnected)
	assert.ErrorIs(t, client.Listen(context.Background()), ErrNotConnected)
}

func TestClientEventHandler(t *testing.T) {
	mock := newMockFreeSWITCH(t, "ClueCon",
		eventBody("HEARTBEAT", "", "", ""),
		eventBody("CHANNEL_CREATE", "abc-1", "Best Friend", "+3333333333"),
	)

	client := NewESLClient(mock.config(t), nil)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	received := make(chan map[string]string, 1)
	client.RegisterHandler("CHANNEL_CREATE", func(headers map[string]string) error {
		received <- headers
		return nil
	})
	require.NoError(t, client.Subscribe("CHANNEL_CREATE", "CHANNEL_ANSWER"))
	<-mock.commands
	assert.Equal(t, "event plain CHANNEL_CREATE CHANNEL_ANSWER", <-mock.commands)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Listen(ctx) }()

	select {
	case headers := <-received:
		assert.Equal(t, "abc-1", headers["Unique-ID"])
		assert.Equal(t, "Best Friend", headers["Caller-Caller-ID-Name"])
		assert.Equal(t, "+3333333333", headers["Caller-Caller-ID-Number"])
		assert.Equal(t, "text/event-plain", headers["Content-Type"])
	case <-time.After(2 * time.Second):
		t.Fatal("没有收到事件")
	}

	cancel()
	assert.NoError(t, <-done)
}
