/*
Copyright 2024 The Kubeflow authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package sparkjobtrigger carries the build information of the spark-job-trigger binary.
package sparkjobtrigger

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
)

// Set through -ldflags "-X github.com/yambo/spark-job-trigger.version=...".
var (
	version      = "0.0.0"
	buildDate    = "1970-01-01T00:00:00Z"
	gitCommit    = ""
	gitTag       = ""
	gitTreeState = ""
)

// VersionInfo describes the build of the running binary.
type VersionInfo struct {
	Version      string `json:"version"`
	BuildDate    string `json:"buildDate"`
	GitCommit    string `json:"gitCommit,omitempty"`
	GitTag       string `json:"gitTag,omitempty"`
	GitTreeState string `json:"gitTreeState,omitempty"`
	GoVersion    string `json:"goVersion"`
	Platform     string `json:"platform"`
}

// GetVersion returns the build information. A clean build of a tagged commit reports the tag;
// anything else reports the base version with the short commit and a dirty marker.
func GetVersion() VersionInfo {
	v := version
	switch {
	case gitTag != "" && gitCommit != "" && gitTreeState == "clean":
		v = gitTag
	case len(gitCommit) >= 7:
		v += "+" + gitCommit[:7]
		if gitTreeState != "clean" {
			v += ".dirty"
		}
	default:
		v += "+unknown"
	}
	return VersionInfo{
		Version:      v,
		BuildDate:    buildDate,
		GitCommit:    gitCommit,
		GitTag:       gitTag,
		GitTreeState: gitTreeState,
		GoVersion:    runtime.Version(),
		Platform:     runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// UserAgent is sent with every request to the cluster API.
func UserAgent() string {
	info := GetVersion()
	return fmt.Sprintf("spark-job-trigger/%s (%s)", info.Version, info.Platform)
}

// PrintVersion writes the build information to w, either as the bare version, as text, or as JSON.
func PrintVersion(w io.Writer, short, asJSON bool) error {
	info := GetVersion()
	switch {
	case short:
		_, err := fmt.Fprintln(w, info.Version)
		return err
	case asJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Fprintf(w, "Spark Job Trigger Version: %s\n", info.Version)
	fmt.Fprintf(w, "Build Date: %s\n", info.BuildDate)
	if info.GitCommit != "" {
		fmt.Fprintf(w, "Git Commit ID: %s\n", info.GitCommit)
	}
	if info.GitTag != "" {
		fmt.Fprintf(w, "Git Tag: %s\n", info.GitTag)
	}
	if info.GitTreeState != "" {
		fmt.Fprintf(w, "Git Tree State: %s\n", info.GitTreeState)
	}
	fmt.Fprintf(w, "Go Version: %s\n", info.GoVersion)
	_, err := fmt.Fprintf(w, "Platform: %s\n", info.Platform)
	return err
}
