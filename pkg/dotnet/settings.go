// Package dotnet builds command lines for the dotnet CLI and runs them through buildsys.
package dotnet

// Verbosity values accepted by --verbosity.
const (
	VerbosityQuiet    = "quiet"
	VerbosityMinimal  = "minimal"
	VerbosityNormal   = "normal"
	VerbosityDetailed = "detailed"
)

func property(name, value string) string {
	return "-p:" + name + "=" + value
}

// RestoreSettings configures dotnet restore.
type RestoreSettings struct {
	ProjectFile string
}

// Args returns the command line after the dotnet executable, starting with restore.
func (s RestoreSettings) Args() []string {
	args := []string{"restore"}
	if s.ProjectFile != "" {
		args = append(args, s.ProjectFile)
	}
	return args
}

// BuildSettings configures dotnet build.
type BuildSettings struct {
	ProjectFile          string
	Configuration        string
	AssemblyVersion      string
	FileVersion          string
	InformationalVersion string
	NoRestore            bool
}

// Args returns the command line after the dotnet executable, starting with build.
func (s BuildSettings) Args() []string {
	args := []string{"build"}
	if s.ProjectFile != "" {
		args = append(args, s.ProjectFile)
	}
	if s.Configuration != "" {
		args = append(args, "--configuration", s.Configuration)
	}
	if s.NoRestore {
		args = append(args, "--no-restore")
	}
	if s.AssemblyVersion != "" {
		args = append(args, property("AssemblyVersion", s.AssemblyVersion))
	}
	if s.FileVersion != "" {
		args = append(args, property("FileVersion", s.FileVersion))
	}
	if s.InformationalVersion != "" {
		args = append(args, property("InformationalVersion", s.InformationalVersion))
	}
	return args
}

// TestSettings configures dotnet test.
type TestSettings struct {
	ProjectFile   string
	Configuration string
	NoRestore     bool
}

// Args returns the command line after the dotnet executable, starting with test.
func (s TestSettings) Args() []string {
	args := []string{"test"}
	if s.ProjectFile != "" {
		args = append(args, s.ProjectFile)
	}
	if s.Configuration != "" {
		args = append(args, "--configuration", s.Configuration)
	}
	if s.NoRestore {
		args = append(args, "--no-restore")
	}
	return args
}

// PackSettings configures dotnet pack.
type PackSettings struct {
	Project         string
	Configuration   string
	OutputDirectory string
	Version         string
	Verbosity       string
}

// Args returns the command line after the dotnet executable, starting with pack.
func (s PackSettings) Args() []string {
	args := []string{"pack"}
	if s.Project != "" {
		args = append(args, s.Project)
	}
	if s.OutputDirectory != "" {
		args = append(args, "--output", s.OutputDirectory)
	}
	if s.Version != "" {
		args = append(args, property("Version", s.Version))
	}
	if s.Verbosity != "" {
		args = append(args, "--verbosity", s.Verbosity)
	}
	if s.Configuration != "" {
		args = append(args, "--configuration", s.Configuration)
	}
	return args
}

// NuGetPushSettings configures dotnet nuget push.
type NuGetPushSettings struct {
	TargetPath        string
	Source            string
	APIKey            string
	NoServiceEndpoint bool
	SkipDuplicate     bool
}

// Args returns the command line after the dotnet executable, starting with nuget push.
func (s NuGetPushSettings) Args() []string {
	args := []string{"nuget", "push", s.TargetPath}
	if s.Source != "" {
		args = append(args, "--source", s.Source)
	}
	if s.APIKey != "" {
		args = append(args, "--api-key", s.APIKey)
	}
	if s.NoServiceEndpoint {
		args = append(args, "--no-service-endpoint")
	}
	if s.SkipDuplicate {
		args = append(args, "--skip-duplicate")
	}
	return args
}
