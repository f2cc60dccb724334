package notifier

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/amirphl/depth-sync/internal/market"
	"github.com/amirphl/depth-sync/internal/orderbook"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestTelegramNotifier(t *testing.T) {
	t.Run("Posts the message", func(t *testing.T) {
		type post struct{ path, chatID, text string }
		posts := make(chan post, 1)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.ParseForm()
			posts <- post{r.URL.Path, r.PostForm.Get("chat_id"), r.PostForm.Get("text")}
			w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()

		n := NewTelegramNotifier("123:abc", "42", 1, 0)
		n.BaseURL = srv.URL
		require.NoError(t, n.Send("hello"))

		got := <-posts
		assert.Equal(t, "/bot123:abc/sendMessage", got.path)
		assert.Equal(t, "42", got.chatID)
		assert.Equal(t, "hello", got.text)
	})

	t.Run("Retries until success", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()

		n := NewTelegramNotifier("t", "c", 3, 0)
		n.BaseURL = srv.URL
		require.NoError(t, n.SendWithRetry("hi"))
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("Gives up", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		n := NewTelegramNotifier("t", "c", 2, 0)
		n.BaseURL = srv.URL
		err := n.SendWithRetry("hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("Transport error hides the token", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()

		n := NewTelegramNotifier("SECRET123:TOKEN", "c", 1, 0)
		n.BaseURL = srv.URL
		err := n.SendWithRetry("hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "telegram send failed")
		assert.NotContains(t, err.Error(), "SECRET123")
	})
}

func TestFetchAlerter_LogsWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	n := NewTelegramNotifier("SECRET123:TOKEN", "c", 1, 0)
	n.BaseURL = srv.URL
	logger, hook := logtest.NewNullLogger()
	a := NewFetchAlerter(n, 1, logrus.NewEntry(logger))

	a.OnFetchError("BTCUSDT", 1, errors.New("transport error: EOF"))
	a.Wait()

	require.NotEmpty(t, hook.AllEntries())
	for _, e := range hook.AllEntries() {
		line, err := e.String()
		require.NoError(t, err)
		assert.NotContains(t, line, "SECRET123")
	}
}

type mockNotifier struct {
	mock.Mock
	mu   sync.Mutex
	msgs []string
}

func (m *mockNotifier) Send(msg string) error { return m.Called(msg).Error(0) }

func (m *mockNotifier) SendWithRetry(msg string) error {
	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	m.mu.Unlock()
	return m.Called(msg).Error(0)
}

func (m *mockNotifier) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.msgs...)
}

func testEntry() *logrus.Entry {
	logger, _ := logtest.NewNullLogger()
	return logrus.NewEntry(logger)
}

func TestFetchAlerter(t *testing.T) {
	t.Run("Alerts once at the threshold and on recovery", func(t *testing.T) {
		n := &mockNotifier{}
		n.On("SendWithRetry", mock.Anything).Return(nil)
		a := NewFetchAlerter(n, 3, testEntry())

		for i := 1; i <= 5; i++ {
			a.OnFetchError("BTCUSDT", i, errors.New("connection refused"))
		}
		a.Wait()
		msgs := n.Messages()
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0], "BTCUSDT")
		assert.Contains(t, msgs[0], "3 times")
		assert.Contains(t, msgs[0], "connection refused")

		a.OnSnapshot("BTCUSDT", orderbook.ReasonGap, market.Snapshot{SequenceID: 77}, orderbook.Applied)
		a.Wait()
		msgs = n.Messages()
		require.Len(t, msgs, 2)
		assert.Contains(t, msgs[1], "sequence 77")
	})

	t.Run("Success resets the count", func(t *testing.T) {
		n := &mockNotifier{}
		a := NewFetchAlerter(n, 2, testEntry())

		a.OnFetchError("ETHUSDT", 1, errors.New("x"))
		a.OnSnapshot("ETHUSDT", orderbook.ReasonInitial, market.Snapshot{}, orderbook.Applied)
		a.OnFetchError("ETHUSDT", 1, errors.New("x"))
		a.Wait()
		n.AssertNotCalled(t, "SendWithRetry", mock.Anything)
	})

	t.Run("Symbols are counted apart", func(t *testing.T) {
		n := &mockNotifier{}
		n.On("SendWithRetry", mock.Anything).Return(nil)
		a := NewFetchAlerter(n, 2, testEntry())

		a.OnFetchError("A", 1, errors.New("x"))
		a.OnFetchError("B", 1, errors.New("x"))
		a.Wait()
		assert.Empty(t, n.Messages())

		a.OnFetchError("A", 2, errors.New("x"))
		a.Wait()
		assert.Len(t, n.Messages(), 1)
	})

	t.Run("Disabled", func(t *testing.T) {
		n := &mockNotifier{}
		a := NewFetchAlerter(n, 0, testEntry())
		for i := 0; i < 10; i++ {
			a.OnFetchError("BTCUSDT", i, errors.New("x"))
		}
		a.Wait()
		n.AssertNotCalled(t, "SendWithRetry", mock.Anything)
	})

	t.Run("Send failure is logged", func(t *testing.T) {
		logger, hook := logtest.NewNullLogger()
		n := &mockNotifier{}
		n.On("SendWithRetry", mock.Anything).Return(errors.New("telegram down"))
		a := NewFetchAlerter(n, 1, logrus.NewEntry(logger))

		a.OnFetchError("BTCUSDT", 1, errors.New("x"))
		a.Wait()
		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, "Alerter | Failed to send alert", hook.LastEntry().Message)
	})
}

func TestNopNotifier(t *testing.T) {
	var n Notifier = NopNotifier{}
	assert.NoError(t, n.Send("x"))
	assert.NoError(t, n.SendWithRetry("x"))
}
