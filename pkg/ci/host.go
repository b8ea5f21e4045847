// Package ci inspects the environment a build runs in.
package ci

import "os"

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type serverMarker struct {
	name string
	env  string
}

// Each entry names a build server and a variable it always sets.
var serverMarkers = []serverMarker{
	{"GitHub Actions", "GITHUB_ACTIONS"},
	{"Azure Pipelines", "TF_BUILD"},
	{"AppVeyor", "APPVEYOR"},
	{"TeamCity", "TEAMCITY_VERSION"},
	{"Jenkins", "JENKINS_URL"},
	{"GitLab", "GITLAB_CI"},
	{"Travis CI", "TRAVIS"},
	{"Bitbucket Pipelines", "BITBUCKET_BUILD_NUMBER"},
	{"generic CI", "CI"},
}

// Host describes the machine running the build.
type Host struct {
	// Name is the detected build server or "local".
	Name   string
	Server bool
	lookup LookupFunc
}

// Detect determines the build host from the environment.
func Detect(lookup LookupFunc) Host {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	for _, marker := range serverMarkers {
		value, ok := lookup(marker.env)
		if ok && value != "" && value != "false" {
			return Host{Name: marker.name, Server: true, lookup: lookup}
		}
	}

	return Host{Name: "local", lookup: lookup}
}

// IsLocalBuild is true when no build server was detected.
func (h Host) IsLocalBuild() bool {
	return !h.Server
}

// Branch returns the branch name the build server reports. Pull request builds report their
// source branch. The result is empty for local builds.
func (h Host) Branch() string {
	if h.lookup == nil {
		return ""
	}

	for _, key := range []string{"GITHUB_HEAD_REF", "GITHUB_REF_NAME", "BUILD_SOURCEBRANCHNAME", "CI_COMMIT_REF_NAME"} {
		if value, ok := h.lookup(key); ok && value != "" {
			return value
		}
	}
	return ""
}
