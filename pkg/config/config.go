package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Build configurations
const (
	Debug   = "Debug"
	Release = "Release"
)

// FileName is the optional config file in the project root.
const FileName = "build.toml"

// Config describes all configuration options
type Config struct {
	Configuration string `toml:"configuration" usage:"Configuration to build - Default is 'Debug' (local) or 'Release' (server)"`
	Artifacts     string `toml:"artifacts" default:"artifacts" usage:"Artifacts directory, relative to the project root"`
	Solution      string `toml:"solution" usage:"Solution file to build (default: the only *.sln in the project root)"`
	DotNet        string `toml:"dotnet" default:"dotnet" usage:"dotnet executable"`

	PrimaryBranch string `toml:"primary_branch" default:"main" usage:"Builds of this branch publish to the public feed"`
	SingleFeed    bool   `toml:"single_feed" default:"false" usage:"Always publish to the public feed"`
	NugetFeedURL  string `toml:"nuget_feed_url" env:"NUGET_FEED_URL" default:"https://api.nuget.org/v3/index.json" usage:"Public package feed"`
	NugetAPIKey   string `toml:"nuget_apikey" env:"NUGET_APIKEY" usage:"API key for the public feed"`
	MygetFeedURL  string `toml:"myget_feed_url" env:"MYGET_FEED_URL" default:"https://www.myget.org/F/marcwittke/api/v3/index.json" usage:"Alternate package feed for non-primary branches"`
	MygetAPIKey   string `toml:"myget_apikey" env:"MYGET_APIKEY" usage:"API key for the alternate feed"`

	GithubActor string `toml:"github_actor" env:"GITHUB_ACTOR" usage:"Identity that triggered the CI run"`
	BotIdentity string `toml:"bot_identity" default:"dependabot[bot]" usage:"Runs triggered by this actor never publish"`

	VersionBase  string `toml:"version_base" default:"0.1.0" usage:"Version used when no version tag exists"`
	VersionLabel string `toml:"version_label" default:"beta" usage:"Pre-release label for commits after a version tag"`

	Log struct {
		Level string `toml:"level" default:"info"`
		JSON  bool   `toml:"json" default:"false" usage:"Output JSON lines instead of pretty console messages"`
	} `toml:"log"`
}

// Feed is a package feed endpoint with its credential.
type Feed struct {
	Name   string
	URL    string
	APIKey string
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object. Values are
// read from defaults, the build.toml in projectRoot (if present) and the environment.
func Loader(projectRoot string) (*Config, *aconfig.Loader) {
	files := []string{}
	cfgFile := filepath.Join(projectRoot, FileName)
	if _, err := os.Stat(cfgFile); err == nil {
		files = append(files, cfgFile)
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: true,
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load is a shortcut for Loader followed by Load.
func Load(projectRoot string) (*Config, error) {
	cfg, loader := Loader(projectRoot)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load configuration")
	}
	return cfg, nil
}

// Resolve fills in the defaults that depend on the build host.
func (cfg *Config) Resolve(isLocalBuild bool) {
	switch strings.ToLower(cfg.Configuration) {
	case "":
		if isLocalBuild {
			cfg.Configuration = Debug
		} else {
			cfg.Configuration = Release
		}
	case "debug":
		cfg.Configuration = Debug
	case "release":
		cfg.Configuration = Release
	}
}

// ArtifactsDir returns the absolute artifacts directory of a build of projectRoot.
func (cfg *Config) ArtifactsDir(projectRoot string) string {
	if filepath.IsAbs(cfg.Artifacts) {
		return filepath.Clean(cfg.Artifacts)
	}
	return filepath.Join(projectRoot, cfg.Artifacts)
}

// Secrets returns the configured API keys. They are masked in logged commands.
func (cfg *Config) Secrets() []string {
	return []string{cfg.NugetAPIKey, cfg.MygetAPIKey}
}

// Validate verifies that all config fields have valid values. The artifacts directory is emptied
// by clean, so it must not contain projectRoot.
func (cfg *Config) Validate(projectRoot string) error {
	if cfg.Configuration != Debug && cfg.Configuration != Release {
		return eris.Errorf(`Invalid value for configuration: %s (must be Debug or Release)`, cfg.Configuration)
	}

	if _, ok := logLevels[cfg.Log.Level]; !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if _, err := semver.NewVersion(cfg.VersionBase); err != nil {
		return eris.Wrapf(err, `Invalid value for version_base: %s`, cfg.VersionBase)
	}

	if cfg.Artifacts == "" {
		return eris.New(`artifacts must not be empty`)
	}

	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return eris.Wrapf(err, "failed to resolve %s", projectRoot)
	}

	rel, err := filepath.Rel(cfg.ArtifactsDir(root), root)
	if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return eris.Errorf(`Invalid value for artifacts: %s contains the project root`, cfg.Artifacts)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// IsRelease reports whether the release configuration is built.
func (cfg *Config) IsRelease() bool {
	return cfg.Configuration == Release
}

// BaseVersion parses VersionBase. Call Validate first.
func (cfg *Config) BaseVersion() *semver.Version {
	version, err := semver.NewVersion(cfg.VersionBase)
	if err != nil {
		return semver.MustParse("0.1.0")
	}
	return version
}

// SelectFeed picks the feed for a build of branch. The primary branch publishes to the public
// feed, every other branch to the alternate feed unless SingleFeed is set.
func (cfg *Config) SelectFeed(branch string) Feed {
	if cfg.SingleFeed || branch == cfg.PrimaryBranch {
		return Feed{Name: "nuget", URL: cfg.NugetFeedURL, APIKey: cfg.NugetAPIKey}
	}

	return Feed{Name: "myget", URL: cfg.MygetFeedURL, APIKey: cfg.MygetAPIKey}
}
