package main

import (
	"context"
	"fmt"

	"github.com/LightHostingFree/sslgen/internal/acme"
	"github.com/LightHostingFree/sslgen/internal/config"
	"github.com/LightHostingFree/sslgen/internal/dns"
	"github.com/LightHostingFree/sslgen/internal/dnszone"
	"github.com/LightHostingFree/sslgen/internal/email"
	"github.com/LightHostingFree/sslgen/internal/registry/handler"
	"github.com/LightHostingFree/sslgen/internal/registry/repository"
	"github.com/LightHostingFree/sslgen/internal/registry/service"
	"github.com/LightHostingFree/sslgen/internal/renewal"
	"github.com/LightHostingFree/sslgen/internal/secret"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// app holds the wired service graph shared by serve and the operator commands.
type app struct {
	cfg         *config.Config
	db          *pgxpool.Pool
	delegations *service.DelegationService
	certs       *service.CertificateService
	precheck    *dns.Prechecker
	reminder    *renewal.Reminder
	logger      *zap.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	codec, err := secret.NewCodec(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	provider, err := newProvider(cfg, logger)
	if err != nil {
		return nil, err
	}

	db, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	delegationRepo := repository.NewDelegationRepository(db)
	certRepo := repository.NewCertificateRepository(db)

	delegations := service.NewDelegationService(delegationRepo, certRepo, provider, codec,
		cfg.Certificate.ExpiryThreshold, logger.Named("delegation"))

	driver := acme.NewDriver(cfg.ACME.PropagationDelay, logger.Named("acme"))
	certs := service.NewCertificateService(certRepo, delegations, driver, codec, service.CertificateConfig{
		Validity:        cfg.Certificate.Validity,
		ExpiryThreshold: cfg.Certificate.ExpiryThreshold,
		IssueTimeout:    cfg.ACME.IssueTimeout,
		DefaultCA:       cfg.ACME.DefaultCA,
		CAs:             cfg.CAs(),
	}, logger.Named("certificate"))
	certs.SetFailureRecorder(handler.RecordIssuanceFailure)
	certs.SetDomainLocker(repository.NewDomainLocks(db))

	precheck := dns.NewPrechecker(nil)
	if cfg.ACME.Precheck {
		certs.SetPrechecker(precheck)
	}

	reminder := renewal.NewReminder(certs, newSender(cfg, logger), cfg.Reminder.Threshold, logger.Named("reminder"))
	reminder.SetSendRecorder(handler.RecordReminder)

	return &app{
		cfg:         cfg,
		db:          db,
		delegations: delegations,
		certs:       certs,
		precheck:    precheck,
		reminder:    reminder,
		logger:      logger,
	}, nil
}

func (a *app) Close() {
	a.db.Close()
}

func newProvider(cfg *config.Config, logger *zap.Logger) (dnszone.Provider, error) {
	retry := dnszone.NewRetrier(cfg.Zone.RetryAttempts, cfg.Zone.RetryBase, logger.Named("dnszone"))
	retry.SetNotify(handler.RecordDNSRetry)

	switch cfg.Zone.Provider {
	case dnszone.ProviderACMEDNS:
		logger.Info("validation zone: acme-dns", zap.String("url", cfg.Zone.ACMEDNSURL))
		return dnszone.NewACMEDNS(cfg.Zone.ACMEDNSURL, retry, logger.Named("dnszone")), nil
	default:
		logger.Info("validation zone: managed", zap.String("host", cfg.Zone.Host))
		return dnszone.NewManaged(dnszone.ManagedConfig{
			APIURL: cfg.Zone.APIURL,
			ZoneID: cfg.Zone.ZoneID,
			Token:  cfg.Zone.APIToken,
			Host:   cfg.Zone.Host,
			TTL:    cfg.Zone.TTL,
		}, retry, logger.Named("dnszone"))
	}
}

func newSender(cfg *config.Config, logger *zap.Logger) email.EmailSender {
	if !cfg.SMTPEnabled() {
		logger.Info("email: SMTP not configured, reminders are logged only")
		return email.NewNoopSender(logger.Named("email"))
	}
	logger.Info("email: SMTP enabled", zap.String("host", cfg.Email.SMTPHost))
	return email.NewSMTPSender(email.SMTPConfig{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.FromAddress,
	})
}
