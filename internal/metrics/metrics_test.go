package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/meshroom/internal/util"
)

type fixedRelay struct{ rooms, members int }

func (f fixedRelay) Rooms() int   { return f.rooms }
func (f fixedRelay) Members() int { return f.members }

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestRegistryExportsMeshCounters(t *testing.T) {
	before := util.Stats.LinksOpened.Load()
	util.Stats.AddLink()

	body := scrape(t, Handler(NewRegistry()))

	assert.Contains(t, body, "# TYPE meshroom_links_opened_total counter")
	assert.Contains(t, body, "# TYPE meshroom_links_active gauge")
	assert.Contains(t, body, "meshroom_signaling_frames_dropped_total")
	assert.GreaterOrEqual(t, util.Stats.LinksOpened.Load(), before+1)
	util.Stats.RemoveLink()
}

func TestRegisterRelay(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterRelay(reg, fixedRelay{rooms: 2, members: 5}))
	assert.Error(t, RegisterRelay(reg, fixedRelay{}), "duplicate registration")

	body := scrape(t, Handler(reg))
	assert.Contains(t, body, "meshroom_relay_rooms 2")
	assert.Contains(t, body, "meshroom_relay_members 5")
}

func TestServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := Serve(ctx, "127.0.0.1:0", NewRegistry())
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "meshroom_links_active")
}
