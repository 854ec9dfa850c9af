// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/Kamino-Finance/limo"
	"github.com/Kamino-Finance/limo/account"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "limod.conf"
	defaultLogFilename    = "limod.log"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogLevel       = "info"
	defaultMaxLogZips     = 16
)

// limodConf is the data that is required to set up the settlement core.
type limodConf struct {
	DataDir   string
	ProgramID account.AccountID
	Admin     account.AccountID
	LogMaker  *limo.LoggerMaker

	Init       bool
	ShowConfig bool
	ListOrders bool
	ReplayFile string
}

type flagsData struct {
	// General application behavior
	AppDataDir  string `short:"A" long:"appdata" description:"Path to application home directory"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output."`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	MaxLogZips  int    `long:"maxlogzips" description:"The number of zipped log files created by the log rotator to be retained. Setting to 0 will keep all."`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`

	ProgramID string `long:"programid" description:"Hex address the settlement program executes as"`
	Admin     string `long:"admin" description:"Admin authority, a hex account address or compressed pubkey, required by --init"`

	Init       bool   `long:"init" description:"Initialize the global configuration record and exit"`
	ShowConfig bool   `long:"showconfig" description:"Print the stored global configuration and exit"`
	ListOrders bool   `long:"orders" description:"List the stored orders and exit"`
	ReplayFile string `long:"replay" description:"Path to a JSON transaction file to apply"`
}

// defaultAppDataDir returns the default application home directory.
func defaultAppDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".limod")
}

// loadConfig initializes and parses the config using a config file and command
// line options.
func loadConfig() (*limodConf, error) {
	// Default config
	cfg := flagsData{
		AppDataDir: defaultAppDataDir(),
		// Defaults for ConfigFile, LogDir, and DataDir are set relative to
		// AppDataDir. They are not to be set here.
		MaxLogZips: defaultMaxLogZips,
		DebugLevel: defaultLogLevel,
	}

	// Pre-parse the command line options to see if an alternative config file
	// or the version flag was specified. Any errors aside from the help
	// message error can be ignored here since they will be caught by the
	// final parse below.
	var preCfg flagsData // zero values as defaults
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		} else if ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		fmt.Printf("limod version %s (Go version %s %s/%s)\n",
			version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	// If a non-default appdata folder is specified on the command line, it
	// may be necessary to adjust the config file location.
	if preCfg.AppDataDir != "" {
		cfg.AppDataDir, err = filepath.Abs(preCfg.AppDataDir)
		if err != nil {
			return nil, fmt.Errorf("unable to determine working directory: %v", err)
		}
	}
	isDefaultConfigFile := preCfg.ConfigFile == ""
	if isDefaultConfigFile {
		preCfg.ConfigFile = filepath.Join(cfg.AppDataDir, defaultConfigFilename)
	} else if !filepath.IsAbs(preCfg.ConfigFile) {
		preCfg.ConfigFile = filepath.Join(cfg.AppDataDir, preCfg.ConfigFile)
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := os.Stat(preCfg.ConfigFile); os.IsNotExist(err) {
		// Non-default config file must exist.
		if !isDefaultConfigFile {
			return nil, err
		}
	} else {
		err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
		if err != nil {
			if _, ok := err.(*os.PathError); !ok {
				fmt.Fprintln(os.Stderr, err)
				parser.WriteHelp(os.Stderr)
				return nil, err
			}
		}
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, err
	}

	// Create the app data directory if it doesn't already exist.
	if err = os.MkdirAll(cfg.AppDataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %v", err)
	}

	// If datadir or logdir are defaults or non-default relative paths,
	// prepend the appdata directory.
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(cfg.AppDataDir, defaultDataDirname)
	} else if !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(cfg.AppDataDir, cfg.DataDir)
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.AppDataDir, defaultLogDirname)
	} else if !filepath.IsAbs(cfg.LogDir) {
		cfg.LogDir = filepath.Join(cfg.AppDataDir, cfg.LogDir)
	}

	// Initialize log rotation. After log rotation has been initialized, the
	// logger variables may be used. This creates the LogDir if needed.
	if cfg.MaxLogZips < 0 {
		cfg.MaxLogZips = 0
	}
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename), cfg.MaxLogZips)

	// Parse, validate, and set debug log level(s).
	logMaker, err := parseAndSetDebugLevels(cfg.DebugLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, err
	}

	log.Infof("App data folder: %s", cfg.AppDataDir)
	log.Infof("Log folder:      %s", cfg.LogDir)

	programID := defaultProgramID
	if cfg.ProgramID != "" {
		programID, err = account.DecodeID(cfg.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("invalid program id: %v", err)
		}
	}

	var admin account.AccountID
	if cfg.Admin != "" {
		admin, err = account.DecodeAddress(cfg.Admin)
		if err != nil {
			return nil, fmt.Errorf("invalid admin address: %v", err)
		}
	}
	if cfg.Init && admin.IsZero() {
		return nil, fmt.Errorf("--init requires --admin")
	}

	return &limodConf{
		DataDir:    cfg.DataDir,
		ProgramID:  programID,
		Admin:      admin,
		LogMaker:   logMaker,
		Init:       cfg.Init,
		ShowConfig: cfg.ShowConfig,
		ListOrders: cfg.ListOrders,
		ReplayFile: cfg.ReplayFile,
	}, nil
}
