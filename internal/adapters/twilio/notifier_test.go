package twilio

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

type received struct {
	path, to, from, body, user, pass string
}

func TestNotifier_SendsForm(t *testing.T) {
	var (
		mu   sync.Mutex
		msgs []received
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		user, pass, _ := r.BasicAuth()
		mu.Lock()
		msgs = append(msgs, received{
			path: r.URL.Path, to: r.PostForm.Get("To"), from: r.PostForm.Get("From"),
			body: r.PostForm.Get("Body"), user: user, pass: pass,
		})
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid": "SM1"}`))
	}))
	defer srv.Close()

	n := NewNotifier(testLogger(), "+15550000", "AC123", "tok", srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, n.Send(ctx, "+15550100", "Job Test Sync Job 1 (run 7) finished: COMPLETED"))
	cancel()
	require.NoError(t, n.Send(context.Background(), "+15550101", "second"))
	n.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, msgs, 2, "a cancelled caller context must not drop the send")
	assert.Equal(t, received{
		path: "/2010-04-01/Accounts/AC123/Messages.json",
		to:   "+15550100", from: "+15550000",
		body: "Job Test Sync Job 1 (run 7) finished: COMPLETED",
		user: "AC123", pass: "tok",
	}, msgs[0])
	assert.Equal(t, "+15550101", msgs[1].to)
}

func TestNotifier_ServerErrorIsLoggedOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewNotifier(testLogger(), "+15550000", "AC123", "tok", srv.URL)
	assert.NoError(t, n.Send(context.Background(), "+15550100", "hi"))
	n.Close()
}

func TestNotifier_RejectsBeforeQueuing(t *testing.T) {
	n := NewNotifier(testLogger(), "+15550000", "", "", "")
	assert.Error(t, n.Send(context.Background(), "+15550100", "hi"))

	n = NewNotifier(testLogger(), "+15550000", "AC123", "tok", "")
	assert.Error(t, n.Send(context.Background(), "", "hi"))

	n.Close()
	assert.ErrorContains(t, n.Send(context.Background(), "+15550100", "hi"), "closed")
}

func TestNotifier_ConcurrentSendAndClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	n := NewNotifier(testLogger(), "+15550000", "AC123", "tok", srv.URL)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- n.Send(context.Background(), "+15550100", "hi")
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		n.Close()
	}()

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			assert.ErrorContains(t, err, "closed")
		}
	}
	assert.ErrorContains(t, n.Send(context.Background(), "+15550100", "hi"), "closed")
}
