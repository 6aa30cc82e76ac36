package main

import (
	"errors"
	"fmt"

	"github.com/bitrise-io/go-kodo/config"
	"github.com/bitrise-io/go-kodo/credential"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type app struct {
	configPath string
	envFile    string
	verbose    bool

	logger log.Logger
	cfg    *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{logger: log.NewLogger()}

	cmd := &cobra.Command{
		Use:           "kodo",
		Short:         "Object storage client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", "", "file of KODO_* environment variables to load")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logs")

	cmd.AddCommand(
		newUploadCmd(a),
		newEtagCmd(a),
		newStatCmd(a),
		newDeleteCmd(a),
		newBucketsCmd(a),
		newS3GetCmd(a),
	)
	return cmd
}

func (a *app) init() error {
	a.logger.EnableDebugLog(a.verbose)

	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(env.NewRepository()); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) credential() (*credential.Credential, error) {
	cred, err := credential.NewValidated(a.cfg.AccessKey, string(a.cfg.SecretKey))
	if errors.Is(err, credential.ErrEmptyKey) {
		return nil, fmt.Errorf("%w, set %s and %s", err, config.AccessKeyEnvKey, config.SecretKeyEnvKey)
	}
	return cred, err
}

// fail logs err and returns it, so that the command exits with an error.
func (a *app) fail(err error) error {
	if err != nil {
		a.logger.Errorf("%s", err)
	}
	return err
}
