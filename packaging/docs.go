package packaging

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"
)

// Artifact describes one published package for the install docs.
type Artifact struct {
	Platform    Platform
	FileName    string
	Size        int
	Placeholder bool
}

type docsData struct {
	App       AppInfo
	Artifacts []Artifact
}

var indexHTML = htmltemplate.Must(htmltemplate.New("index.html").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.App.Name}} downloads</title>
</head>
<body>
<h1>{{.App.Name}} {{.App.Version}}</h1>
<ul>
{{- range .Artifacts}}
<li><a href="{{.FileName}}" download>{{.FileName}}</a> ({{.Size}} bytes){{if .Placeholder}} <strong>placeholder, not installable</strong>{{end}}</li>
{{- end}}
</ul>
<h2>Android</h2>
<ol>
<li>Download the APK on the device.</li>
<li>Allow installs from unknown sources for your browser or file manager.</li>
<li>Open the file and confirm the installation.</li>
</ol>
<h2>iOS</h2>
<ol>
<li>IPA files can only be installed on registered devices through TestFlight, an enterprise profile, or Xcode.</li>
<li>For development, connect the device and run the App scheme from ios/App in Xcode.</li>
</ol>
</body>
</html>
`))

var readmeTxt = template.Must(template.New("README.txt").Parse(`{{.App.Name}} {{.App.Version}} - mobile packages
{{range .Artifacts}}
  {{.FileName}}  {{.Size}} bytes{{if .Placeholder}}  [placeholder]{{end}}
{{- end}}

ANDROID
  1. Copy the APK to the device or download it from this page.
  2. Enable "Install unknown apps" for the app that opens it.
  3. Open the APK and confirm.

IOS
  IPA files install only on registered devices (TestFlight, enterprise
  profile, or Xcode). For development, open ios/App/App.xcworkspace in Xcode
  and run the App scheme on a connected device.
{{- if .HasPlaceholder}}

NOTE
  Packages marked placeholder were generated because the native toolchain
  was not available. They only contain the platform manifest and will not
  install. Build on a machine with Android Studio or Xcode for real packages.
{{- end}}
`))

// HasPlaceholder reports whether any listed artifact is a placeholder.
func (d docsData) HasPlaceholder() bool {
	for _, a := range d.Artifacts {
		if a.Placeholder {
			return true
		}
	}
	return false
}

// Docs are the install instructions published next to the packages.
type Docs struct {
	IndexHTML []byte
	Readme    []byte
}

// InstallDocs renders index.html and README.txt for the given artifacts.
func InstallDocs(app AppInfo, artifacts []Artifact) (*Docs, error) {
	data := docsData{App: app, Artifacts: artifacts}

	var html, readme bytes.Buffer
	if err := indexHTML.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("packaging: render index.html: %w", err)
	}
	if err := readmeTxt.Execute(&readme, data); err != nil {
		return nil, fmt.Errorf("packaging: render README.txt: %w", err)
	}
	return &Docs{IndexHTML: html.Bytes(), Readme: readme.Bytes()}, nil
}
