package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joshp123/eufyscope/internal/auth"
	"github.com/joshp123/eufyscope/internal/config"
)

type bootstrapFlags struct {
	bootstrapFile string
	email         string
	passwordFile  string
	openUDID      string
	userID        string
	force         bool

	mqttThing    string
	mqttEndpoint string
	mqttPort     int
	mqttCertFile string
	mqttKeyFile  string
}

func bootstrapCmd(configPath *string) *cobra.Command {
	f := bootstrapFlags{}
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Write the Eufy account bootstrap file",
		Long: "Writes the credentials the eufy plugin logs in with. The password is read " +
			"from --password-file or, when omitted, from the first line of stdin.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := f.bootstrapFile
			if path == "" {
				cfg, err := config.Load(resolveConfigPath(*configPath))
				if err != nil {
					return err
				}
				if path, err = config.BootstrapPathForProvider(cfg, "eufy"); err != nil {
					return err
				}
			}
			if _, err := os.Stat(path); err == nil && !f.force {
				return fmt.Errorf("%s exists, pass --force to overwrite", path)
			}

			b, err := f.build(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if err := auth.WriteBootstrap(path, b); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (openudid %s)\n", path, b.OpenUDID)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.bootstrapFile, "bootstrap-file", "", "override eufy.bootstrap_file")
	flags.StringVar(&f.email, "email", "", "Eufy account email")
	flags.StringVar(&f.passwordFile, "password-file", "", "file holding the account password")
	flags.StringVar(&f.openUDID, "openudid", "", "client id sent to the API (default random)")
	flags.StringVar(&f.userID, "user-id", "", "Eufy user id, used in the MQTT client id")
	flags.BoolVar(&f.force, "force", false, "overwrite an existing bootstrap file")
	flags.StringVar(&f.mqttThing, "mqtt-thing-name", "", "MQTT thing name")
	flags.StringVar(&f.mqttEndpoint, "mqtt-endpoint", "", "MQTT broker host")
	flags.IntVar(&f.mqttPort, "mqtt-port", 0, "MQTT broker port (default 8883)")
	flags.StringVar(&f.mqttCertFile, "mqtt-cert-file", "", "PEM client certificate")
	flags.StringVar(&f.mqttKeyFile, "mqtt-key-file", "", "PEM client private key")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (f bootstrapFlags) build(stdin io.Reader) (auth.Bootstrap, error) {
	password, err := f.password(stdin)
	if err != nil {
		return auth.Bootstrap{}, err
	}
	b := auth.Bootstrap{
		Email:    strings.TrimSpace(f.email),
		Password: password,
		OpenUDID: f.openUDID,
		UserID:   f.userID,
	}
	if b.OpenUDID == "" {
		b.OpenUDID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	if f.mqttThing != "" || f.mqttEndpoint != "" || f.mqttCertFile != "" || f.mqttKeyFile != "" {
		cert, err := readOptional(f.mqttCertFile)
		if err != nil {
			return auth.Bootstrap{}, err
		}
		key, err := readOptional(f.mqttKeyFile)
		if err != nil {
			return auth.Bootstrap{}, err
		}
		b.MQTT = &auth.MQTTCredentials{
			ThingName:      f.mqttThing,
			Endpoint:       f.mqttEndpoint,
			Port:           f.mqttPort,
			CertificatePEM: cert,
			PrivateKeyPEM:  key,
		}
		if !b.MQTT.Complete() {
			return auth.Bootstrap{}, fmt.Errorf("mqtt credentials need thing name, endpoint, certificate and key")
		}
	}
	return b, nil
}

func (f bootstrapFlags) password(stdin io.Reader) (string, error) {
	if f.passwordFile != "" {
		data, err := os.ReadFile(f.passwordFile)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("password is required on stdin or via --password-file")
	}
	return line, nil
}

func readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
