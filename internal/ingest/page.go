package ingest

import (
	"strings"

	"github.com/bidev/playcast-ingest/internal/classify"
)

var uploadPage = []byte(strings.Replace(uploadPageTemplate, "{{ACCEPT}}", strings.Join(classify.AcceptExtensions(), ","), 1))

const uploadPageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>PlayCast Upload</title>
<style>
body { font-family: sans-serif; max-width: 480px; margin: 40px auto; padding: 0 16px; }
h1 { font-size: 1.4em; }
button { margin-top: 12px; padding: 8px 16px; }
#status { margin-top: 16px; }
</style>
</head>
<body>
<h1>Send a file to PlayCast</h1>
<form id="upload" action="/upload" method="post" enctype="multipart/form-data">
<input type="file" id="mediafile" name="mediafile" accept="{{ACCEPT}}" required>
<input type="hidden" id="filename" name="filename">
<br>
<button type="submit">Upload</button>
</form>
<div id="status"></div>
<script>
var input = document.getElementById('mediafile');
var nameField = document.getElementById('filename');
var status = document.getElementById('status');
input.addEventListener('change', function () {
  nameField.value = input.files.length ? input.files[0].name : '';
});
document.getElementById('upload').addEventListener('submit', function (ev) {
  ev.preventDefault();
  if (!input.files.length) {
    status.textContent = 'Choose a file first.';
    return;
  }
  var data = new FormData();
  data.append('filename', input.files[0].name);
  data.append('mediafile', input.files[0]);
  status.textContent = 'Uploading...';
  fetch('/upload', { method: 'POST', body: data })
    .then(function (res) { return res.json(); })
    .then(function (body) { status.textContent = body.message; })
    .catch(function (err) { status.textContent = 'Upload failed: ' + err; });
});
</script>
</body>
</html>
`
