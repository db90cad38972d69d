// Package boot implements the post-BootNotification configuration
// sequence: probe GetConfiguration, then push AuthorizeRemoteTxRequests
// and a QR-code display key by ChangeConfiguration when the charger
// advertises support, falling back to a vendor DataTransfer otherwise.
package boot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ocpp-csms/csms/internal/cache"
	"github.com/ocpp-csms/csms/internal/csms/station"
	"github.com/ocpp-csms/csms/internal/logger"
	"github.com/ocpp-csms/csms/internal/ocpp/messages"
)

// supportedKeysTTL bounds how long a probed charge point's
// GetConfiguration answer is trusted across reconnects. A charger that
// comes back within this window skips the probe entirely; one that
// comes back after it is probed fresh, since its configuration may
// have changed in the meantime.
const supportedKeysTTL = 30 * time.Minute

const (
	keyAuthorizeRemoteTxRequests = "AuthorizeRemoteTxRequests"
	keyQRCodeConnectorID1        = "QRcodeConnectorID1"

	vendorIDPayment   = "com.yourcompany.payment"
	vendorMessageIDQR = "DisplayQRCode"
)

// Config carries the boot sequence's tunables: the GetConfiguration
// probe timeout and the QR code URL pushed to connector 1.
type Config struct {
	GetConfigTimeout time.Duration
	CallTimeout      time.Duration
	QRCodeURL        string
}

// DefaultConfig uses a 10s boot probe timeout.
func DefaultConfig() Config {
	return Config{
		GetConfigTimeout: 10 * time.Second,
		CallTimeout:      30 * time.Second,
		QRCodeURL:        "https://your-domain.example/qr",
	}
}

// Configurator runs the boot sequence for every actor it is attached
// to via Hook.
type Configurator struct {
	cfg   Config
	log   *logger.Logger
	cache *cache.LRUCache
}

// New builds a Configurator. It keeps its own supported-keys cache so
// a charge point that reconnects within supportedKeysTTL is not
// re-probed with GetConfiguration.
func New(cfg Config, log *logger.Logger) *Configurator {
	if cfg.GetConfigTimeout <= 0 {
		cfg.GetConfigTimeout = DefaultConfig().GetConfigTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	if cfg.QRCodeURL == "" {
		cfg.QRCodeURL = DefaultConfig().QRCodeURL
	}
	cacheCfg := cache.DefaultConfig()
	cacheCfg.DefaultTTL = supportedKeysTTL
	return &Configurator{cfg: cfg, log: log, cache: cache.NewLRUCache(cacheCfg)}
}

// Hook is wired as the actor's BootHook (station.Actor.SetBootHook),
// run off the dispatch loop so BootNotification's own reply is never
// delayed by it.
func (c *Configurator) Hook(a *station.Actor) {
	supported := c.probeSupportedKeys(a)

	if supported[keyAuthorizeRemoteTxRequests] {
		go c.changeConfiguration(a, keyAuthorizeRemoteTxRequests, "true")
	}

	if supported[keyQRCodeConnectorID1] {
		go c.changeConfiguration(a, keyQRCodeConnectorID1, c.cfg.QRCodeURL)
	} else {
		go c.vendorDisplayQR(a)
	}
}

func (c *Configurator) probeSupportedKeys(a *station.Actor) map[string]bool {
	if cached, ok := c.cache.Get(a.ID); ok {
		c.log.Debugf("%s: reusing cached GetConfiguration keys from last boot", a.ID)
		return cached.(map[string]bool)
	}

	supported := make(map[string]bool)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.GetConfigTimeout)
	defer cancel()

	payload, err := a.Call(ctx, string(messages.ActionGetConfiguration), messages.GetConfigurationRequest{}, c.cfg.GetConfigTimeout)
	if err != nil {
		c.log.Warnf("%s: GetConfiguration probe failed, proceeding without supported keys: %v", a.ID, err)
		return supported
	}

	var resp messages.GetConfigurationResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		c.log.Warnf("%s: decoding GetConfiguration response: %v", a.ID, err)
		return supported
	}
	for _, kv := range resp.ConfigurationKey {
		supported[kv.Key] = true
	}
	c.cache.Set(a.ID, supported, supportedKeysTTL)
	return supported
}

func (c *Configurator) changeConfiguration(a *station.Actor, key, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
	defer cancel()

	payload, err := a.Call(ctx, string(messages.ActionChangeConfiguration), messages.ChangeConfigurationRequest{Key: key, Value: value}, c.cfg.CallTimeout)
	if err != nil {
		c.log.Warnf("%s: ChangeConfiguration(%s) failed: %v", a.ID, key, err)
		return
	}
	var resp messages.ChangeConfigurationResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		c.log.Warnf("%s: decoding ChangeConfiguration(%s) response: %v", a.ID, key, err)
		return
	}
	c.log.Infof("%s: ChangeConfiguration(%s) -> %s", a.ID, key, resp.Status)
}

// vendorDisplayQR is the fallback path when the charger does not
// advertise QRcodeConnectorID1 support: a vendor DataTransfer carrying
// the same URL, matching central.py's make_display_message_call
// fallback to call.DataTransfer("com.yourcompany.payment", "DisplayQRCode", ...).
func (c *Configurator) vendorDisplayQR(a *station.Actor) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
	defer cancel()

	messageID := vendorMessageIDQR
	req := messages.DataTransferRequest{
		VendorId:  vendorIDPayment,
		MessageId: &messageID,
		Data: map[string]string{
			"message_type": "QRCode",
			"uri":          c.cfg.QRCodeURL,
		},
	}
	if _, err := a.Call(ctx, string(messages.ActionDataTransfer), req, c.cfg.CallTimeout); err != nil {
		c.log.Warnf("%s: vendor DisplayQRCode DataTransfer failed: %v", a.ID, err)
	}
}
