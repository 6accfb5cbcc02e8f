package api

import (
	"bytes"
	"html/template"
	"net/http"

	"charsearch/internal/app/search"
	"charsearch/internal/domain/view"
)

type pageData struct {
	Term string
	View view.Node
}

var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Character search</title>
<style>
body { font-family: sans-serif; margin: 2rem; }
.card { display: inline-block; width: 16rem; margin: .5rem; padding: .5rem; border: 1px solid #ccc; border-radius: 6px; vertical-align: top; }
.card img { width: 100%; }
.error { color: #b00; }
</style>
</head>
<body>
<form method="get" action="/">
  <input id="term" type="text" name="name" placeholder="Search for a character" value="{{.Term}}" autocomplete="off">
  <button type="submit">Search</button>
</form>
<div id="results">{{template "node" .View}}</div>
<script>
(function () {
  var input = document.getElementById("term");
  var results = document.getElementById("results");
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "/v1/view/ws");
  function el(tag, cls, text) {
    var e = document.createElement(tag);
    if (cls) e.className = cls;
    if (text) e.textContent = text;
    return e;
  }
  function build(n) {
    var kids = n.children || [];
    switch (n.kind) {
    case "card":
      var card = el("article", "card");
      card.dataset.key = n.key || "";
      if (n.image) { var img = el("img"); img.src = n.image; img.alt = n.text; card.appendChild(img); }
      card.appendChild(el("h2", "", n.text));
      kids.forEach(function (f) { card.appendChild(el("p", "field", f.label + ": " + (f.text || ""))); });
      return card;
    case "loading": case "notice":
      return el("p", n.kind, n.text);
    case "error":
      return el("p", "error", n.text);
    default:
      var box = el("div", n.kind);
      if (n.text) box.appendChild(el("p", "", n.text));
      kids.forEach(function (c) { box.appendChild(build(c)); });
      return box;
    }
  }
  ws.onopen = function () { ws.send(JSON.stringify({type: "search", term: input.value})); };
  ws.onmessage = function (ev) {
    var msg = JSON.parse(ev.data);
    if (msg.type !== "render") return;
    results.replaceChildren(build(msg.view));
  };
  input.addEventListener("input", function () {
    if (ws.readyState === WebSocket.OPEN) ws.send(JSON.stringify({type: "search", term: input.value}));
  });
})();
</script>
</body>
</html>
{{define "node"}}
{{- if eq .Kind "card"}}
<article class="card" data-key="{{.Key}}">
  {{if .Image}}<img src="{{.Image}}" alt="{{.Text}}">{{end}}
  <h2>{{.Text}}</h2>
  {{range .Children}}<p class="field">{{.Label}}: {{.Text}}</p>
  {{end}}
</article>
{{- else if eq .Kind "error"}}<p class="error">{{.Text}}</p>
{{- else if or (eq .Kind "loading") (eq .Kind "notice")}}<p class="{{.Kind}}">{{.Text}}</p>
{{- else}}
<div class="{{.Kind}}">
  {{if .Text}}<p>{{.Text}}</p>{{end}}
  {{range .Children}}{{template "node" .}}{{end}}
</div>
{{- end}}
{{end}}`))

// page renders a one-shot search server-side; the script then hands the
// page over to a live websocket session.
func (h *Handler) page(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("name")
	snap := search.Resolve(r.Context(), h.characters, h.selector, term)
	if snap.Err != nil {
		h.logger.Warn().Err(snap.Err).Str("term", term).Msg("page search failed")
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, pageData{Term: term, View: search.Render(snap)}); err != nil {
		h.logger.Error().Err(err).Msg("render page failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
