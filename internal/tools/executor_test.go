// internal/tools/executor_test.go
package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/xkilldash9x/palmtree/internal/browser/session"
	"github.com/xkilldash9x/palmtree/internal/config"
	"github.com/xkilldash9x/palmtree/internal/metrics"
)

type mockBrowser struct {
	mock.Mock
}

func (m *mockBrowser) Navigate(ctx context.Context, url string) (session.PageInfo, error) {
	args := m.Called(ctx, url)
	return args.Get(0).(session.PageInfo), args.Error(1)
}

func (m *mockBrowser) Click(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}

func (m *mockBrowser) Type(ctx context.Context, selector, text string) error {
	return m.Called(ctx, selector, text).Error(0)
}

func (m *mockBrowser) Extract(ctx context.Context, selector string) (string, error) {
	args := m.Called(ctx, selector)
	return args.String(0), args.Error(1)
}

func (m *mockBrowser) Wait(ctx context.Context, cond session.WaitCondition) error {
	return m.Called(ctx, cond).Error(0)
}

func newTestExecutor(t *testing.T, browser Browser, maxExtract int) *Executor {
	t.Helper()
	return NewExecutor(browser, config.BrowserConfig{MaxExtractChars: maxExtract}, zaptest.NewLogger(t), nil)
}

func TestExecuteSuccess(t *testing.T) {
	t.Run("Navigate", func(t *testing.T) {
		b := new(mockBrowser)
		b.On("Navigate", mock.Anything, "https://example.com").Return(session.PageInfo{
			URL: "https://example.com/", Title: "Example Domain", LoginRequired: true,
		}, nil).Once()

		obs := newTestExecutor(t, b, 2000).Execute(context.Background(), Navigate{URL: "example.com"})
		assert.True(t, obs.Success)
		assert.Equal(t, KindNavigate, obs.Action)
		assert.Equal(t, "https://example.com/", obs.URL)
		assert.Equal(t, "Example Domain", obs.Title)
		assert.True(t, obs.LoginRequired)
		b.AssertExpectations(t)
	})

	t.Run("ExtractNormalisesAndTruncates", func(t *testing.T) {
		b := new(mockBrowser)
		b.On("Extract", mock.Anything, "").Return("  alpha\n\n beta\tgamma   delta ", nil).Once()

		obs := newTestExecutor(t, b, 10).Execute(context.Background(), Extract{})
		require.True(t, obs.Success)
		assert.Equal(t, "alpha beta...", obs.Text)
	})

	t.Run("WaitPassesParsedCondition", func(t *testing.T) {
		b := new(mockBrowser)
		b.On("Wait", mock.Anything, session.WaitCondition{Duration: 2 * time.Second}).Return(nil).Once()

		obs := newTestExecutor(t, b, 2000).Execute(context.Background(), Wait{Condition: "2s"})
		assert.True(t, obs.Success)
		b.AssertExpectations(t)
	})

	t.Run("FinishIsLocal", func(t *testing.T) {
		b := new(mockBrowser)
		obs := newTestExecutor(t, b, 2000).Execute(context.Background(), Finish{Result: " done "})
		assert.True(t, obs.Success)
		assert.Equal(t, KindFinish, obs.Action)
		assert.Equal(t, "done", obs.Text)
		assert.Empty(t, b.Calls)
	})
}

func TestExecuteFailureTaxonomy(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		setup   func(b *mockBrowser)
		failure Failure
	}{
		{
			name:   "ClickMissingElement",
			action: Click{Selector: "#gone"},
			setup: func(b *mockBrowser) {
				b.On("Click", mock.Anything, "#gone").Return(fmt.Errorf("click: %w: #gone", session.ErrElementNotFound))
			},
			failure: FailureSelectorNotFound,
		},
		{
			name:   "TypeTimeout",
			action: Type{Selector: "#q", Text: "x"},
			setup: func(b *mockBrowser) {
				b.On("Type", mock.Anything, "#q", "x").Return(session.ErrTimeout)
			},
			failure: FailureSelectorNotFound,
		},
		{
			name:   "NavigateTimeout",
			action: Navigate{URL: "https://slow.test"},
			setup: func(b *mockBrowser) {
				b.On("Navigate", mock.Anything, "https://slow.test").Return(session.PageInfo{}, session.ErrTimeout)
			},
			failure: FailureNavigationTimeout,
		},
		{
			name:   "NavigateDNSFailure",
			action: Navigate{URL: "https://nowhere.test"},
			setup: func(b *mockBrowser) {
				b.On("Navigate", mock.Anything, "https://nowhere.test").Return(session.PageInfo{}, errors.New("net::ERR_NAME_NOT_RESOLVED"))
			},
			failure: FailureNavigationTimeout,
		},
		{
			name:   "Disconnected",
			action: Extract{Selector: "main"},
			setup: func(b *mockBrowser) {
				b.On("Extract", mock.Anything, "main").Return("", fmt.Errorf("extract: %w", session.ErrDisconnected))
			},
			failure: FailureProtocolDisconnected,
		},
		{
			name:   "RawConnectionReset",
			action: Click{Selector: "a"},
			setup: func(b *mockBrowser) {
				b.On("Click", mock.Anything, "a").Return(errors.New("read tcp 127.0.0.1:9222: connection reset by peer"))
			},
			failure: FailureProtocolDisconnected,
		},
		{
			name:   "SessionClosed",
			action: Navigate{URL: "https://a.test"},
			setup: func(b *mockBrowser) {
				b.On("Navigate", mock.Anything, "https://a.test").Return(session.PageInfo{}, session.ErrClosed)
			},
			failure: FailureProtocolDisconnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := new(mockBrowser)
			tt.setup(b)

			obs := newTestExecutor(t, b, 2000).Execute(context.Background(), tt.action)
			assert.False(t, obs.Success)
			assert.Equal(t, tt.failure, obs.Failure)
			assert.Equal(t, tt.action.Kind(), obs.Action)
			assert.NotEmpty(t, obs.Message)
			b.AssertExpectations(t)
		})
	}
}

func TestInvalidActionNeverTouchesBrowser(t *testing.T) {
	invalid := []Action{
		nil,
		Navigate{URL: "ftp://files.test"},
		Click{},
		Type{Selector: "#q"},
		Extract{Selector: "div["},
		Wait{Condition: "45s"},
	}
	for _, a := range invalid {
		b := new(mockBrowser)
		obs := newTestExecutor(t, b, 2000).Execute(context.Background(), a)
		assert.Equal(t, FailureInvalidAction, obs.Failure, "action %#v", a)
		assert.Empty(t, b.Calls, "browser must not be touched for %#v", a)
	}
}

// Any empty or unparsable target yields invalid_action with zero browser calls.
func TestInvalidActionProperty(t *testing.T) {
	badSelectors := []string{"", " ", "div[", "a[href", "#", "p:not(", "[=x]"}
	rapid.Check(t, func(rt *rapid.T) {
		sel := rapid.SampledFrom(badSelectors).Draw(rt, "selector")
		text := rapid.StringMatching(`[a-z]{0,8}`).Draw(rt, "text")
		action := rapid.SampledFrom([]Action{
			Click{Selector: sel},
			Type{Selector: sel, Text: text},
			Wait{Condition: sel},
		}).Draw(rt, "action")

		b := new(mockBrowser)
		e := NewExecutor(b, config.BrowserConfig{MaxExtractChars: 2000}, zap.NewNop(), nil)
		obs := e.Execute(context.Background(), action)
		if obs.Failure != FailureInvalidAction {
			rt.Fatalf("expected invalid_action for %#v, got %+v", action, obs)
		}
		if len(b.Calls) != 0 {
			rt.Fatalf("browser touched for %#v", action)
		}
	})
}

func TestExecuteIgnoresCallerCancellation(t *testing.T) {
	b := new(mockBrowser)
	b.On("Click", mock.Anything, "#go").Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		assert.NoError(t, ctx.Err(), "browser primitive must run on a detached context")
	}).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	obs := newTestExecutor(t, b, 2000).Execute(ctx, Click{Selector: "#go"})
	assert.True(t, obs.Success)
}

// overlapBrowser fails the test if two primitives ever run at once.
type overlapBrowser struct {
	active  atomic.Int32
	overlap atomic.Bool
	calls   atomic.Int32
}

func (o *overlapBrowser) enter() {
	if o.active.Add(1) > 1 {
		o.overlap.Store(true)
	}
	o.calls.Add(1)
	time.Sleep(2 * time.Millisecond)
	o.active.Add(-1)
}

func (o *overlapBrowser) Navigate(context.Context, string) (session.PageInfo, error) {
	o.enter()
	return session.PageInfo{}, nil
}

func (o *overlapBrowser) Click(context.Context, string) error { o.enter(); return nil }

func (o *overlapBrowser) Type(context.Context, string, string) error { o.enter(); return nil }

func (o *overlapBrowser) Extract(context.Context, string) (string, error) {
	o.enter()
	return "", nil
}

func (o *overlapBrowser) Wait(context.Context, session.WaitCondition) error { o.enter(); return nil }

func TestExecuteIsSerialized(t *testing.T) {
	b := &overlapBrowser{}
	e := newTestExecutor(t, b, 2000)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e.Execute(context.Background(), Click{Selector: fmt.Sprintf("#b%d", i)})
		}(i)
	}
	wg.Wait()

	assert.False(t, b.overlap.Load(), "Execute must serialize primitives per session")
	assert.Equal(t, int32(8), b.calls.Load())
}

func TestExecuteRecordsMetrics(t *testing.T) {
	b := new(mockBrowser)
	b.On("Click", mock.Anything, "#x").Return(session.ErrElementNotFound)
	collector := metrics.NewCollector("palmtree_test")
	e := NewExecutor(b, config.BrowserConfig{MaxExtractChars: 2000}, zaptest.NewLogger(t), collector)

	e.Execute(context.Background(), Click{Selector: "#x"})
	e.Execute(context.Background(), Click{})

	body := scrapeMetrics(t, collector)
	assert.True(t, strings.Contains(body, `palmtree_test_actions_total{kind="click",outcome="selector_not_found"} 1`), body)
	assert.True(t, strings.Contains(body, `palmtree_test_actions_total{kind="click",outcome="invalid_action"} 1`), body)
}

func scrapeMetrics(t *testing.T, c *metrics.Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestObservationRender(t *testing.T) {
	obs := Observation{Action: KindExtract, Success: true, Text: "hello"}
	assert.JSONEq(t, `{"action":"extract","success":true,"text":"hello"}`, obs.Render())

	obs = Observation{Action: KindClick, Failure: FailureSelectorNotFound, Message: "no #x"}
	assert.JSONEq(t, `{"action":"click","success":false,"failure":"selector_not_found","message":"no #x"}`, obs.Render())
}
