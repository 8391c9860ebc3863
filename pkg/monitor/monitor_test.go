package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) Counts() map[string]int64 {
	args := m.Called()
	return args.Get(0).(map[string]int64)
}

func (m *MockSource) ResetCounters() {
	m.Called()
}

func (m *MockSource) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockSource) Channels() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

func TestHealthz(t *testing.T) {
	src := &MockSource{}
	src.On("IsConnected").Return(true).Once()
	src.On("IsConnected").Return(false).Once()
	h := NewHandler(src)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	src.AssertExpectations(t)
}

func TestCounts(t *testing.T) {
	src := &MockSource{}
	src.On("IsConnected").Return(true)
	src.On("Counts").Return(map[string]int64{"get": 2, "set": 5})

	rec := httptest.NewRecorder()
	NewHandler(src).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/counts", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body countsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Connected)
	assert.Equal(t, int64(5), body.Counts["set"])
	assert.Equal(t, int64(2), body.Counts["get"])
}

func TestResetCounts(t *testing.T) {
	src := &MockSource{}
	src.On("ResetCounters").Return()

	rec := httptest.NewRecorder()
	NewHandler(src).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/counts/reset", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	src.AssertCalled(t, "ResetCounters")
}

func TestResetCounts_RequiresPost(t *testing.T) {
	src := &MockSource{}

	rec := httptest.NewRecorder()
	NewHandler(src).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/counts/reset", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	src.AssertNotCalled(t, "ResetCounters")
}

func TestChannels(t *testing.T) {
	src := &MockSource{}
	src.On("Channels").Return([]string{"app:news", "app:sports"})

	rec := httptest.NewRecorder()
	NewHandler(src).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/channels", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body channelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"app:news", "app:sports"}, body.Channels)
	src.AssertExpectations(t)
}
