package gateway

import (
	"html/template"
	"strings"
)

// redirectFormTmpl is the hosted-redirect page returned to the buyer's
// browser. It auto-submits the hidden xml field to the gateway's 3DS endpoint
// after three seconds, with a manual submit fallback.
var redirectFormTmpl = template.Must(template.New("redirect").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Redirigiendo al banco...</title></head>
<body onload="setTimeout(function(){document.getElementById('pgform').submit();}, 3000)">
<p>En unos segundos ser&aacute; redirigido al sitio seguro de su banco.</p>
<form id="pgform" method="POST" action="{{.URL}}">
<input type="hidden" name="xml" value="{{.XML}}">
<noscript><input type="submit" value="Continuar"></noscript>
<input type="submit" value="Continuar ahora">
</form>
</body>
</html>
`))

// RenderRedirectForm renders the auto-submitting POST form carrying the
// envelope document to the gateway's 3DS endpoint. The returned HTML is
// stored on the payment session and must be served back byte-identical.
func RenderRedirectForm(threeDSURL, envelopeXML string) (string, error) {
	var sb strings.Builder
	err := redirectFormTmpl.Execute(&sb, struct {
		URL string
		XML string
	}{URL: threeDSURL, XML: envelopeXML})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}
