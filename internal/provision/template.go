package provision

import (
	"errors"
	"html/template"

	"github.com/sweeney/basic-switch/internal/credentials"
	"github.com/sweeney/basic-switch/internal/logic"
)

type formField struct {
	Name     string
	Label    string
	Value    string
	MaxLen   int
	Password bool
	Error    string
}

type formPage struct {
	SSID   string
	Fields []formField
	Error  string
	Saved  bool
	Device string
}

var labels = map[credentials.Field]string{
	credentials.FieldLogin:      "MQTT login",
	credentials.FieldPassword:   "MQTT password",
	credentials.FieldDevice:     "Device name",
	credentials.FieldCapability: "Capability",
	credentials.FieldBrokerIP:   "Broker IP",
	credentials.FieldBrokerPort: "Broker port",
}

// newFormPage builds the re-prompt for a rejected submission. Every field
// error is attached to its input; the password is never echoed back.
func newFormPage(ssid string, values map[credentials.Field]string, err error) formPage {
	page := formPage{SSID: ssid}
	perField := fieldErrors(err)

	for _, f := range credentials.Fields {
		ff := formField{
			Name:     string(f),
			Label:    labels[f],
			Value:    values[f],
			MaxLen:   f.MaxLen(),
			Password: f == credentials.FieldPassword,
			Error:    perField[f],
		}
		if ff.Password {
			ff.Value = ""
		}
		page.Fields = append(page.Fields, ff)
	}

	switch {
	case err == nil:
	case errors.Is(err, logic.ErrInvalidState):
		page.Error = "The device is no longer in configuration mode."
	case errors.Is(err, ErrBusy):
		page.Error = "The device did not respond, try again."
	case len(perField) == 0:
		page.Error = err.Error()
	}
	return page
}

// fieldErrors flattens joined errors into one message per field.
func fieldErrors(err error) map[credentials.Field]string {
	out := make(map[credentials.Field]string)
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				walk(e)
			}
			return
		}
		var fe *credentials.FieldError
		if errors.As(err, &fe) {
			if _, seen := out[fe.Field]; !seen {
				out[fe.Field] = fe.Err.Error()
			}
		}
	}
	walk(err)
	return out
}

var formTmpl = template.Must(template.New("portal").Parse(portalHTML))

const portalHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Basic Switch Setup</title>
<style>
body { font-family: monospace; max-width: 480px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
label { display: block; margin-top: 1em; }
input { width: 100%; box-sizing: border-box; padding: 4px; }
.err { color: red; }
.ok { color: green; }
</style>
</head>
<body>
<h1>Basic Switch Setup</h1>
{{if .SSID}}<p>Access point: {{.SSID}}</p>{{end}}
{{if .Saved}}
<p class="ok">Saved. {{.Device}} is connecting to the broker.</p>
{{else}}
{{if .Error}}<p class="err">{{.Error}}</p>{{end}}
<form method="post" action="/save">
{{range .Fields}}
<label for="{{.Name}}">{{.Label}}</label>
<input id="{{.Name}}" name="{{.Name}}" maxlength="{{.MaxLen}}"{{if .Password}} type="password"{{else}} value="{{.Value}}"{{end}}>
{{if .Error}}<span class="err">{{.Error}}</span>{{end}}
{{end}}
<p><button type="submit">Save</button></p>
</form>
{{end}}
</body>
</html>
`
