package serialmux

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// localHostRequest creates an httptest request that appears to come from localhost.
// This passes tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAttachAdminRoutes_SendCommandAPI(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name           string
		method         string
		formData       url.Values
		expectedStatus int
		wantBody       string
	}{
		{"valid POST with command", http.MethodPost, url.Values{"command": {"#0P1500"}}, http.StatusOK, "#0P1500"},
		{"POST with empty command", http.MethodPost, url.Values{"command": {""}}, http.StatusBadRequest, "Missing command"},
		{"POST with whitespace-only command", http.MethodPost, url.Values{"command": {"   "}}, http.StatusBadRequest, "Missing command"},
		{"POST without command parameter", http.MethodPost, url.Values{}, http.StatusBadRequest, "Missing command"},
		{"GET method not allowed", http.MethodGet, nil, http.StatusMethodNotAllowed, "Method not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.formData != nil {
				body = strings.NewReader(tt.formData.Encode())
			}
			req := localHostRequest(tt.method, "/debug/send-command-api", body)
			if tt.formData != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}

			w := httptest.NewRecorder()
			httpMux.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d. Body: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("Expected body to contain %q, got: %s", tt.wantBody, w.Body.String())
			}
		})
	}

	if got := string(port.GetWrittenData()); got != "#0P1500\r" {
		t.Errorf("written = %q, want %q", got, "#0P1500\r")
	}
}

func TestAttachAdminRoutes_SendCommandAPI_WriteError(t *testing.T) {
	port := NewTestableSerialPort()
	port.WriteError = errors.New("device unplugged")
	mux := NewSerialMux(port)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	formData := url.Values{"command": {"VER"}}
	req := localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(formData.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d. Body: %s", w.Code, w.Body.String())
	}
}

func TestAttachAdminRoutes_SendCommandPage(t *testing.T) {
	httpMux := http.NewServeMux()
	NewSerialMux(NewTestableSerialPort()).AttachAdminRoutes(httpMux)

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/send-command", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "<form") {
		t.Error("Response doesn't contain the command form")
	}
}

func TestAttachAdminRoutes_TailMethod(t *testing.T) {
	httpMux := http.NewServeMux()
	NewSerialMux(NewTestableSerialPort()).AttachAdminRoutes(httpMux)

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodPost, "/debug/tail", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestAttachAdminRoutes_RejectsRemote(t *testing.T) {
	httpMux := http.NewServeMux()
	NewSerialMux(NewTestableSerialPort()).AttachAdminRoutes(httpMux)

	req := httptest.NewRequest(http.MethodGet, "/debug/send-command", nil)
	req.RemoteAddr = "203.0.113.5:4000"
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)
	if w.Code == http.StatusOK {
		t.Error("debug routes should not be served to non-loopback clients")
	}
}
