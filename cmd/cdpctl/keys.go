package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"aerocdp/cmd/internal/passphrase"
	"aerocdp/config"
	"aerocdp/crypto"
	"aerocdp/gateway/middleware"
)

func runKeygen(_ context.Context, args []string) error {
	fs := newFlagSet("keygen")
	keystorePath := fs.String("keystore", "operator.keystore", "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	fs.Parse(args)

	if _, err := os.Stat(*keystorePath); err == nil && !*force {
		return fmt.Errorf("keystore %s already exists (use -force to overwrite)", *keystorePath)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	pass, err := passphrase.NewSource(*passEnv, "operator keystore").WithConfirmation().Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, pass); err != nil {
		return err
	}
	fmt.Printf("Created %s for %s\n", *keystorePath, key.PubKey().Address())
	return nil
}

func runAddress(_ context.Context, args []string) error {
	fs := newFlagSet("address")
	keystorePath := fs.String("keystore", "operator.keystore", "Keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	fs.Parse(args)

	addr, err := keystoreAddress(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	fmt.Println(addr)
	return nil
}

func keystoreAddress(path, passEnv string) (crypto.Address, error) {
	pass, err := passphrase.NewSource(passEnv, "operator keystore").Get()
	if err != nil {
		return crypto.Address{}, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return crypto.Address{}, err
	}
	return key.PubKey().Address(), nil
}

func runToken(_ context.Context, args []string) error {
	fs := newFlagSet("token")
	configPath := fs.String("config", "", "cdpd config supplying the secret, issuer and audience")
	secretEnv := fs.String("secret-env", "CDPD_HMAC_SECRET", "Environment variable holding the HMAC secret")
	subject := fs.String("subject", "", "Token subject, normally the owner address")
	scopes := fs.String("scopes", middleware.ScopeWrite, "Space or comma separated scopes")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	fs.Parse(args)

	if err := required("subject", *subject); err != nil {
		return err
	}
	authCfg := middleware.AuthConfig{Enabled: true, HMACSecret: strings.TrimSpace(os.Getenv(*secretEnv))}
	if *configPath != "" {
		if _, err := os.Stat(*configPath); err != nil {
			return err
		}
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		authCfg.Issuer = cfg.Auth.Issuer
		authCfg.Audience = cfg.Auth.Audience
		if authCfg.HMACSecret == "" {
			authCfg.HMACSecret = cfg.Auth.HMACSecret
		}
	}
	if authCfg.HMACSecret == "" {
		return fmt.Errorf("no HMAC secret: set %s or pass -config", *secretEnv)
	}
	token, err := middleware.NewAuthenticator(authCfg, nil).Sign(*subject, splitScopes(*scopes), *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func splitScopes(raw string) []string {
	return strings.Fields(strings.ReplaceAll(raw, ",", " "))
}
