package bridge

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/canvas-bridge/internal/domain/auth"
)

func TestImportSessionURL(t *testing.T) {
	got, err := ImportSessionURL("https://canvas.example.com/", "", "", "p-42")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "canvas.example.com", u.Host)
	assert.Equal(t, DefaultBridgePath, u.Path)
	assert.Equal(t, "/project/p-42", u.Query().Get("redirect_to"))
	assert.Equal(t, "1", u.Query().Get("app"))
	assert.Len(t, u.Query(), 2)
}

func TestImportSessionURL_CustomPaths(t *testing.T) {
	got, err := ImportSessionURL("https://canvas.example.com", "/bridge", "/p/", "a b")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "/bridge", u.Path)
	assert.Equal(t, "/p/a%20b", u.Query().Get("redirect_to"))
}

func TestImportSessionURL_Invalid(t *testing.T) {
	_, err := ImportSessionURL("not a url", "", "", "p")
	require.Error(t, err)
	_, err = ImportSessionURL("https://canvas.example.com", "", "", " ")
	require.Error(t, err)
}

func TestDeliveryScript(t *testing.T) {
	script, err := DeliveryScript(domainauth.Credentials{AccessToken: "acc</script>", RefreshToken: "ref"})
	require.NoError(t, err)

	assert.Contains(t, script, `"type":"supabase-session"`)
	assert.Contains(t, script, `"refresh_token":"ref"`)
	assert.Contains(t, script, "window.dispatchEvent")
	assert.Contains(t, script, "document.dispatchEvent")
	assert.NotContains(t, script, "</script>")
	assert.NotContains(t, script, "location")
}

func TestDeliveryScript_RequiresBothCredentials(t *testing.T) {
	_, err := DeliveryScript(domainauth.Credentials{AccessToken: "acc"})
	require.Error(t, err)
}

func TestBootstrapScript(t *testing.T) {
	script, err := BootstrapScript(BootstrapOptions{ProjectID: `p"1`, RequestDelay: 300 * time.Millisecond})
	require.NoError(t, err)

	assert.Contains(t, script, `window.__CANVAS_PROJECT_ID__ = "p\"1";`)
	assert.Contains(t, script, `post({type:"auth.request"});`)
	assert.Contains(t, script, `post({type:"request-supabase-session"});`)
	assert.Contains(t, script, "}, 300);")
	assert.NotContains(t, script, "unhandledrejection")
}

func TestBootstrapScript_DebugForwardsConsole(t *testing.T) {
	script, err := BootstrapScript(BootstrapOptions{ProjectID: "p", Debug: true})
	require.NoError(t, err)

	assert.Contains(t, script, "unhandledrejection")
	assert.Contains(t, script, `post({type:"console"`)
	assert.True(t, strings.HasSuffix(script, "true;"))
}
