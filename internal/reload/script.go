package reload

import (
	"fmt"
	"net"
	"strconv"
)

// ScriptPath is where the reload listener serves ClientScript.
const ScriptPath = "/livereload.js"

// Snippet returns the tag injected into served HTML documents. An empty host
// makes the browser reuse the hostname of the page it loaded.
func Snippet(host string, port int) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		return fmt.Sprintf(
			`<script>document.write('<script src="//' + (location.hostname || 'localhost') + ':%d%s?snipver=1"></' + 'script>')</script>`,
			port, ScriptPath)
	}
	return fmt.Sprintf(`<script src="//%s%s?snipver=1"></script>`, net.JoinHostPort(host, strconv.Itoa(port)), ScriptPath)
}

// ClientScript connects to the reload listener it was loaded from and
// applies reload commands: stylesheet swaps for liveCSS, full reloads
// otherwise.
const ClientScript = `(function () {
  'use strict';

  var script = document.currentScript;
  var origin = script ? new URL(script.src) : new URL('http://' + location.hostname + ':35729');
  var url = (origin.protocol === 'https:' ? 'wss://' : 'ws://') + origin.host + '/livereload';
  var delay = 1000;

  function reloadStylesheets(path) {
    var links = document.querySelectorAll('link[rel="stylesheet"]');
    var matched = false;
    Array.prototype.forEach.call(links, function (link) {
      var href = new URL(link.href, location.href);
      if (path && href.pathname.split('/').pop() !== path.split('/').pop()) {
        return;
      }
      matched = true;
      href.searchParams.set('livereload', Date.now());
      link.href = href.toString();
    });
    if (!matched) {
      Array.prototype.forEach.call(links, function (link) {
        var href = new URL(link.href, location.href);
        href.searchParams.set('livereload', Date.now());
        link.href = href.toString();
      });
    }
  }

  function connect() {
    var ws = new WebSocket(url);

    ws.onopen = function () {
      delay = 1000;
      ws.send(JSON.stringify({ command: 'hello', protocols: ['http://livereload.com/protocols/official-7'] }));
    };

    ws.onmessage = function (event) {
      var msg;
      try {
        msg = JSON.parse(event.data);
      } catch (err) {
        return;
      }
      if (msg.command !== 'reload') {
        return;
      }
      if (msg.liveCSS) {
        reloadStylesheets(msg.path);
      } else {
        location.reload();
      }
    };

    ws.onclose = function () {
      setTimeout(connect, delay);
      delay = Math.min(delay * 2, 30000);
    };
  }

  connect();
})();
`
