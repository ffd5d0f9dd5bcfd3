package livereload

import (
	"net/http"
	"strconv"

	"aphorism/src/internal/domain"
)

// clientScript reconnects with a small backoff so a server restart also
// brings the page back.
const clientScript = `(function () {
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var url = proto + location.host + "` + domain.LiveReloadPath + `";
  var delay = 500;
  function connect() {
    var ws = new WebSocket(url);
    ws.onopen = function () { delay = 500; };
    ws.onmessage = function (ev) {
      var msg = JSON.parse(ev.data);
      if (msg.type === "reload") { location.reload(); }
    };
    ws.onclose = function () {
      setTimeout(connect, delay);
      delay = Math.min(delay * 2, 5000);
    };
  }
  connect();
})();
`

// ScriptHandler serves the browser side of live reload. Pages opt in with
// <script src="/__livereload.js"></script>.
func ScriptHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(clientScript)))
		w.Header().Set("Cache-Control", "no-store")
		if r.Method == http.MethodHead {
			return
		}
		w.Write([]byte(clientScript))
	})
}
