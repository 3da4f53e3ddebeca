// Package packaging fabricates placeholder APK and IPA packages and
// publishes packages into the web app's download directories.
package packaging

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"text/template"
)

// Platform is a mobile target.
type Platform string

const (
	Android Platform = "android"
	IOS     Platform = "ios"
)

// Platforms lists every supported target in build order.
var Platforms = []Platform{Android, IOS}

// ParsePlatform accepts the platform names used on the command line.
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(s) {
	case "android", "apk":
		return Android, nil
	case "ios", "ipa":
		return IOS, nil
	default:
		return "", fmt.Errorf("packaging: unknown platform %q", s)
	}
}

// Ext is the package file extension, without the dot.
func (p Platform) Ext() string {
	switch p {
	case Android:
		return "apk"
	case IOS:
		return "ipa"
	default:
		return "zip"
	}
}

// AppInfo is the metadata stamped into placeholder manifests.
type AppInfo struct {
	Name     string
	ID       string
	Version  string
	BuildNum int
}

// FileName is the published package name, e.g. WorkerConnect.apk.
func (a AppInfo) FileName(p Platform) string {
	return a.Name + "." + p.Ext()
}

// Entry is one file inside a package. Names ending in "/" are directories.
type Entry struct {
	Name    string
	Content []byte
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return strings.HasSuffix(e.Name, "/")
}

var funcs = template.FuncMap{
	"xml": func(s string) (string, error) {
		var b strings.Builder
		if err := xml.EscapeText(&b, []byte(s)); err != nil {
			return "", err
		}
		return b.String(), nil
	},
}

var androidManifest = template.Must(template.New("AndroidManifest.xml").Funcs(funcs).Parse(
	`<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android"
    package="{{xml .ID}}"
    android:versionCode="{{.BuildNum}}"
    android:versionName="{{xml .Version}}">
    <application android:label="{{xml .Name}}" />
</manifest>
`))

var infoPlist = template.Must(template.New("Info.plist").Funcs(funcs).Parse(
	`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>CFBundleIdentifier</key>
    <string>{{xml .ID}}</string>
    <key>CFBundleName</key>
    <string>{{xml .Name}}</string>
    <key>CFBundleExecutable</key>
    <string>{{xml .Name}}</string>
    <key>CFBundleShortVersionString</key>
    <string>{{xml .Version}}</string>
    <key>CFBundleVersion</key>
    <string>{{.BuildNum}}</string>
</dict>
</plist>
`))

func render(t *template.Template, app AppInfo) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, app); err != nil {
		return nil, fmt.Errorf("packaging: render %s: %w", t.Name(), err)
	}
	return buf.Bytes(), nil
}

// Layout returns the entries a reader of the platform's format expects to
// find: AndroidManifest.xml at the root of an APK, and
// Payload/<App>.app/Info.plist inside an IPA.
func Layout(p Platform, app AppInfo) ([]Entry, error) {
	switch p {
	case Android:
		manifest, err := render(androidManifest, app)
		if err != nil {
			return nil, err
		}
		return []Entry{{Name: "AndroidManifest.xml", Content: manifest}}, nil
	case IOS:
		plist, err := render(infoPlist, app)
		if err != nil {
			return nil, err
		}
		bundle := "Payload/" + app.Name + ".app/"
		return []Entry{
			{Name: "Payload/"},
			{Name: bundle},
			{Name: bundle + "Info.plist", Content: plist},
		}, nil
	default:
		return nil, fmt.Errorf("packaging: unknown platform %q", p)
	}
}
