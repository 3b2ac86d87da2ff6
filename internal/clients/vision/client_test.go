package vision

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai_receptionist/internal/types"
)

func TestClassifyResponse_Label(t *testing.T) {
	tests := []struct {
		name string
		resp ClassifyResponse
		want types.Condition
	}{
		{"显式标签", ClassifyResponse{Condition: "Sleeping"}, types.ConditionSleeping},
		{"正在用手机", ClassifyResponse{Condition: "using_phone"}, types.ConditionActive},
		{"无法识别的标签", ClassifyResponse{Condition: "dancing"}, types.ConditionUnknown},
		{"设备忙", ClassifyResponse{DeviceBusy: true}, types.ConditionActive},
		{"没有摄像头", ClassifyResponse{}, types.ConditionUnknown},
		{"没有人脸", ClassifyResponse{Camera: true}, types.ConditionAway},
		{"闭眼", ClassifyResponse{Camera: true, FaceFound: true, EyesClosed: true}, types.ConditionSleeping},
		{"睁眼", ClassifyResponse{Camera: true, FaceFound: true}, types.ConditionBusy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resp.Label())
		})
	}
}

func TestClient_Classify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/classify", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"camera":true,"face_found":true,"eyes_closed":true}`))
	}))
	defer server.Close()

	client := NewClient(Config{Host: server.URL + "/"}, nil)
	assert.Equal(t, types.ConditionSleeping, client.Classify(context.Background()))
}

func TestClient_FailureIsUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "camera offline", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Config{Host: server.URL}, nil)
	_, err := client.Detect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera offline")
	assert.Equal(t, types.ConditionUnknown, client.Classify(context.Background()))
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(Config{Host: server.URL, Timeout: 20 * time.Millisecond}, nil)
	assert.Equal(t, types.ConditionUnknown, client.Classify(context.Background()))
}

func TestStatic(t *testing.T) {
	assert.Equal(t, types.ConditionUnknown, Static{}.Classify(context.Background()))
	assert.Equal(t, types.ConditionAway, Static{Label: types.ConditionAway}.Classify(context.Background()))
}
