package gitinfo

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// DefaultLabel is the pre-release label for builds past a version tag.
const DefaultLabel = "beta"

// Version is the build version derived from the nearest version tag.
type Version struct {
	Base            *semver.Version
	CommitsSinceTag int
	Sha             string
	Label           string
}

func (v Version) core() string {
	result := fmt.Sprintf("%d.%d.%d", v.Base.Major(), v.Base.Minor(), v.Base.Patch())
	if v.Base.Prerelease() != "" {
		result += "-" + v.Base.Prerelease()
	}
	return result
}

// SemVer is the base version for tagged commits and base-labelNNNN otherwise, NNNN being the
// zero-padded number of commits since the tag.
func (v Version) SemVer() string {
	if v.CommitsSinceTag == 0 {
		return v.core()
	}

	label := v.Label
	if label == "" {
		label = DefaultLabel
	}
	return fmt.Sprintf("%s-%s%04d", v.core(), label, v.CommitsSinceTag)
}

// NuGetVersion is the package version passed to dotnet pack.
func (v Version) NuGetVersion() string {
	return v.SemVer()
}

// AssemblySemVer only carries the numeric core because assembly versions can't hold labels.
func (v Version) AssemblySemVer() string {
	return fmt.Sprintf("%d.%d.%d.0", v.Base.Major(), v.Base.Minor(), v.Base.Patch())
}

// AssemblySemFileVer uses the commit count as revision. Windows limits each part to 16 bits.
func (v Version) AssemblySemFileVer() string {
	revision := v.CommitsSinceTag
	if revision > 65535 {
		revision = 65535
	}
	return fmt.Sprintf("%d.%d.%d.%d", v.Base.Major(), v.Base.Minor(), v.Base.Patch(), revision)
}

// InformationalVersion appends the commit hash as build metadata.
func (v Version) InformationalVersion() string {
	if v.Sha == "" {
		return v.SemVer()
	}
	return v.SemVer() + "+Sha." + v.Sha
}

func (v Version) String() string {
	return v.SemVer()
}
