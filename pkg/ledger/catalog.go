package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Endpoints locates the Ledger manager services.
type Endpoints struct {
	ManagerAPI   string
	ScriptRunner string
	Provider     int
}

var DefaultEndpoints = Endpoints{
	ManagerAPI:   "https://manager.api.live.ledger.com/api",
	ScriptRunner: "wss://scriptrunner.api.live.ledger.com/update",
	Provider:     1,
}

// DeviceVersion is the manager's record for a device model.
type DeviceVersion struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	TargetID string `json:"target_id"`
}

// FirmwareVersion is the manager's record for a secure element firmware.
type FirmwareVersion struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Perso string `json:"perso"`
}

// AppVersion is a catalog entry for an installable application.
type AppVersion struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Perso       string `json:"perso"`
	Hash        string `json:"hash"`
	Firmware    string `json:"firmware"`
	FirmwareKey string `json:"firmware_key"`
	Delete      string `json:"delete"`
	DeleteKey   string `json:"delete_key"`
}

// Catalog is a client for the manager API.
type Catalog struct {
	BaseURL  string
	Provider int
	Client   *http.Client
}

func NewCatalog(ep Endpoints) *Catalog {
	return &Catalog{
		BaseURL:  strings.TrimRight(ep.ManagerAPI, "/"),
		Provider: ep.Provider,
		Client:   http.DefaultClient,
	}
}

func (c *Catalog) DeviceVersion(ctx context.Context, targetID uint32) (DeviceVersion, error) {
	var dv DeviceVersion
	err := c.post(ctx, "/get_device_version", map[string]any{
		"provider":  c.Provider,
		"target_id": targetID,
	}, &dv)
	return dv, err
}

func (c *Catalog) FirmwareVersion(ctx context.Context, dv DeviceVersion, seVersion string) (FirmwareVersion, error) {
	var fw FirmwareVersion
	err := c.post(ctx, "/get_firmware_version", map[string]any{
		"provider":       c.Provider,
		"device_version": dv.ID,
		"version_name":   seVersion,
	}, &fw)
	return fw, err
}

func (c *Catalog) Apps(ctx context.Context, dv DeviceVersion, fw FirmwareVersion) ([]AppVersion, error) {
	var resp struct {
		ApplicationVersions []AppVersion `json:"application_versions"`
	}
	err := c.post(ctx, "/get_apps", map[string]any{
		"provider":                          c.Provider,
		"device_version":                    dv.ID,
		"current_se_firmware_final_version": fw.ID,
	}, &resp)
	return resp.ApplicationVersions, err
}

func (c *Catalog) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("manager api %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("manager api %s: %s: %s", path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("manager api %s: decode: %w", path, err)
	}
	return nil
}
