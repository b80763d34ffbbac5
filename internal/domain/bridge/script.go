package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"text/template"
	"time"

	domainauth "github.com/target/canvas-bridge/internal/domain/auth"
)

// SessionMessageType is the message type the canvas listens for when receiving a session.
const SessionMessageType = "supabase-session"

// Default paths on the web origin.
const (
	DefaultBridgePath  = "/auth/import-session"
	DefaultProjectPath = "/project/"
)

// ImportSessionURL builds the bridge page URL that receives the session and then redirects
// to the project. Tokens are never part of it. Empty paths use the defaults.
func ImportSessionURL(origin, bridgePath, projectPath, projectID string) (string, error) {
	base, err := url.Parse(strings.TrimRight(origin, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid web origin %q", origin)
	}
	if strings.TrimSpace(projectID) == "" {
		return "", errors.New("project id is required")
	}
	if bridgePath == "" {
		bridgePath = DefaultBridgePath
	}
	if projectPath == "" {
		projectPath = DefaultProjectPath
	}
	base.Path = bridgePath
	q := url.Values{}
	q.Set("redirect_to", projectPath+url.PathEscape(projectID))
	q.Set("app", "1")
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// sessionMessage is the body dispatched into the document.
type sessionMessage struct {
	Type    string         `json:"type"`
	Payload sessionPayload `json:"payload"`
}

type sessionPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// DeliveryScript returns the script that hands creds to the document. It dispatches a
// MessageEvent on both window and document, since canvas builds listen on either.
func DeliveryScript(creds domainauth.Credentials) (string, error) {
	if !creds.Complete() {
		return "", errors.New("incomplete credentials")
	}
	body, err := json.Marshal(sessionMessage{
		Type: SessionMessageType,
		Payload: sessionPayload{
			AccessToken:  creds.AccessToken,
			RefreshToken: creds.RefreshToken,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal session message: %w", err)
	}
	// json.Marshal escapes <, > and &, so the literal is safe to splice into script text.
	var b strings.Builder
	b.WriteString("(function(){var data=")
	b.Write(body)
	b.WriteString(";var json=JSON.stringify(data);")
	b.WriteString("try{window.dispatchEvent(new MessageEvent('message',{data:json}));}catch(e){}")
	b.WriteString("try{document.dispatchEvent(new MessageEvent('message',{data:json}));}catch(e){}")
	b.WriteString("})();true;")
	return b.String(), nil
}

// BootstrapOptions configures the script injected on every page load.
type BootstrapOptions struct {
	ProjectID    string
	Debug        bool          // forward console output and errors to the host
	RequestDelay time.Duration // delay before asking the host for a session
}

var bootstrapTmpl = template.Must(template.New("bootstrap").Parse(`(function(){
  window.__CANVAS_PROJECT_ID__ = {{.ProjectID}};
  var post = function(msg){
    try { window.ReactNativeWebView.postMessage(JSON.stringify(msg)); } catch (e) {}
  };
{{- if .Debug}}
  ["log","info","warn","error","debug"].forEach(function(level){
    var original = console[level];
    console[level] = function(){
      var args = Array.prototype.slice.call(arguments).map(function(a){
        try { return typeof a === "string" ? a : JSON.stringify(a); } catch (e) { return String(a); }
      });
      post({type:"console", payload:{level: level, args: args}});
      if (original) { original.apply(console, arguments); }
    };
  });
  window.addEventListener("error", function(ev){
    post({type:"console", payload:{level:"error", args:[String(ev.message), String(ev.filename)+":"+ev.lineno]}});
  });
  window.addEventListener("unhandledrejection", function(ev){
    post({type:"console", payload:{level:"error", args:["unhandledrejection", String(ev.reason)]}});
  });
{{- end}}
  setTimeout(function(){
    post({type:{{.AuthRequest}}});
    post({type:{{.SessionRequest}}});
  }, {{.DelayMS}});
})();
true;`))

// BootstrapScript renders the per-load bootstrap: it exposes the project id, forwards console
// output in debug builds, and asks the host for a session under both request aliases.
func BootstrapScript(opts BootstrapOptions) (string, error) {
	projectID, err := json.Marshal(opts.ProjectID)
	if err != nil {
		return "", fmt.Errorf("marshal project id: %w", err)
	}
	authReq, _ := json.Marshal(WireAuthRequest)       //nolint:errchkjson // constant string
	sessionReq, _ := json.Marshal(WireSessionRequest) //nolint:errchkjson // constant string

	delay := opts.RequestDelay
	if delay < 0 {
		delay = 0
	}

	var buf bytes.Buffer
	err = bootstrapTmpl.Execute(&buf, struct {
		ProjectID      string
		Debug          bool
		AuthRequest    string
		SessionRequest string
		DelayMS        int64
	}{
		ProjectID:      string(projectID),
		Debug:          opts.Debug,
		AuthRequest:    string(authReq),
		SessionRequest: string(sessionReq),
		DelayMS:        delay.Milliseconds(),
	})
	if err != nil {
		return "", fmt.Errorf("render bootstrap script: %w", err)
	}
	return buf.String(), nil
}
