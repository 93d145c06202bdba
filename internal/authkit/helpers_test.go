package authkit

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

type controllableClock struct {
	mutex   sync.Mutex
	current time.Time
}

func (clock *controllableClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *controllableClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(duration)
}

type tokenEndpointResponse struct {
	status int
	body   string
}

// fakeTokenEndpoint records every form it receives and answers with a scripted response.
type fakeTokenEndpoint struct {
	mutex    sync.Mutex
	forms    []url.Values
	respond  func(form url.Values) tokenEndpointResponse
	server   *httptest.Server
	contents []string
}

func newFakeTokenEndpoint(t *testing.T, respond func(form url.Values) tokenEndpointResponse) *fakeTokenEndpoint {
	t.Helper()
	endpoint := &fakeTokenEndpoint{respond: respond}
	endpoint.server = httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if parseErr := request.ParseForm(); parseErr != nil {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		endpoint.mutex.Lock()
		endpoint.forms = append(endpoint.forms, request.PostForm)
		endpoint.contents = append(endpoint.contents, request.Header.Get("Content-Type"))
		endpoint.mutex.Unlock()

		response := endpoint.respond(request.PostForm)
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(response.status)
		_, _ = writer.Write([]byte(response.body))
	}))
	t.Cleanup(endpoint.server.Close)
	return endpoint
}

func (endpoint *fakeTokenEndpoint) Calls() int {
	endpoint.mutex.Lock()
	defer endpoint.mutex.Unlock()
	return len(endpoint.forms)
}

func (endpoint *fakeTokenEndpoint) Form(index int) url.Values {
	endpoint.mutex.Lock()
	defer endpoint.mutex.Unlock()
	return endpoint.forms[index]
}

func (endpoint *fakeTokenEndpoint) ContentType(index int) string {
	endpoint.mutex.Lock()
	defer endpoint.mutex.Unlock()
	return endpoint.contents[index]
}

func newTestServerConfig(tokenURL string) ServerConfig {
	return ServerConfig{
		ClientID:          "client-id",
		ClientSecret:      "client-secret",
		RedirectURI:       "http://localhost:3000/oauth",
		AuthorizeURL:      "https://app.example.com/oauth/authorize",
		TokenURL:          tokenURL,
		Scopes:            DefaultScopes,
		AccessTokenMargin: DefaultAccessTokenMargin,
	}
}

func newClockedAccessCache(clock *controllableClock) *MemoryAccessTokenCache {
	cache := NewMemoryAccessTokenCache()
	cache.now = clock.Now
	return cache
}
