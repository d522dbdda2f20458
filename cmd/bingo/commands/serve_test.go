package commands

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/bingo/internal/identity"
	"github.com/dyluth/bingo/pkg/ledger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var listeningRe = regexp.MustCompile(`Listening on http://(\S+)`)

func TestServe_SeedsAndServes(t *testing.T) {
	mr := useRedis(t)

	path := filepath.Join(t.TempDir(), "bingo.yml")
	require.NoError(t, os.WriteFile(path, []byte(`version: "1.0"
listen: "127.0.0.1:0"
control:
  tokens: ["admin"]
log:
  level: warn
experiments:
  - name: button_color
    alternatives: '{"red": 1, "blue": 1}'
    conversions: '["click"]'
`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out, errOut syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, &out, &errOut, "serve", "--config", path)
	}()

	var addr string
	require.Eventually(t, func() bool {
		m := listeningRe.FindStringSubmatch(out.String())
		if m == nil {
			return false
		}
		addr = m[1]
		return true
	}, 5*time.Second, 20*time.Millisecond, "server did not start: %s", errOut.String())
	assert.Contains(t, out.String(), "Created 1 configured experiment(s)")

	form := url.Values{"canonical_name": {"button_color"}}
	req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/blotter/ab_test", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: identity.DefaultCookieName, Value: "user-" + uuid.NewString()})

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "seeded experiment already exists")

	resp, err = http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.Contains(t, out.String(), "Stopped")

	exp, err := ledgerClient(t, mr.Addr()).GetExperiment(context.Background(), "button_color")
	require.NoError(t, err)
	assert.Equal(t, []string{"click"}, exp.ConversionNames)

	// A second start finds the seed already present.
	ctx2, cancel2 := context.WithCancel(context.Background())
	var out2 syncBuffer
	done2 := make(chan error, 1)
	go func() {
		done2 <- run(ctx2, &out2, &errOut, "serve", "--config", path)
	}()
	require.Eventually(t, func() bool {
		return listeningRe.MatchString(out2.String())
	}, 5*time.Second, 20*time.Millisecond)
	assert.NotContains(t, out2.String(), "configured experiment")
	cancel2()
	require.NoError(t, <-done2)

	stored, err := ledgerClient(t, mr.Addr()).ListExperiments(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	assert.Equal(t, ledger.StatusLive, stored[0].Status)
}

func TestServe_ListenInUse(t *testing.T) {
	useRedis(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, errOut, err := execute(t, "serve", "--listen", ln.Addr().String())
	require.Error(t, err)
	assert.Equal(t, "failed to start server", err.Error())
	assert.Contains(t, errOut, "--listen")
}
