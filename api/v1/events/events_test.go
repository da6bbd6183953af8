package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"servicecatalog-cron/models"
	v1 "servicecatalog-cron/services/v1"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := v1.NewEventHub()
	r := gin.New()
	r.GET("/events/ws", Stream(hub))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered after the upgrade, so keep publishing
	// until the first event arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				hub.Publish(models.Intent{Key: "enr-1:billing_suspend:1", Kind: models.BillingSuspend, EnrollmentID: "enr-1", Episode: 1})
			case <-stop:
				return
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got models.Intent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "enr-1:billing_suspend:1", got.Key)
	assert.Equal(t, models.BillingSuspend, got.Kind)
}

func TestStreamRejectsForeignOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/events/ws", Stream(v1.NewEventHub()))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/ws"
	header := map[string][]string{"Origin": {"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}
