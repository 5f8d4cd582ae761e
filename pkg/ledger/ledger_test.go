package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"

	"github.com/seagrayinc/ledgerctl/pkg/apdu"
	"github.com/seagrayinc/ledgerctl/pkg/hid"
)

// parseHexString converts a dash-separated hex string to bytes
func parseHexString(s string) []byte {
	b, err := hex.DecodeString(strings.ReplaceAll(s, "-", ""))
	if err != nil {
		panic(err)
	}
	return b
}

// Nano S Plus, SE 1.1.1, flags 00000000, MCU "4.03" with a trailing NUL.
const getVersionResponse = "33-10-00-04-05-31-2e-31-2e-31-04-00-00-00-00-05-34-2e-30-33-00"

func appEntry(name string, hashByte byte) []byte {
	e := []byte{0x00, 0x00, 0x08, 0x00}
	e = append(e, make([]byte, 32)...)
	for i := 0; i < 32; i++ {
		e = append(e, hashByte)
	}
	e = append(e, byte(len(name)))
	e = append(e, name...)
	return append([]byte{byte(len(e))}, e...)
}

func listPage(entries ...[]byte) []byte {
	p := []byte{0x01}
	for _, e := range entries {
		p = append(p, e...)
	}
	return p
}

func TestParseGetVersionResponse(t *testing.T) {
	info, err := parseGetVersionResponse(parseHexString(getVersionResponse))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := DeviceInfo{
		TargetID:   0x33100004,
		SEVersion:  "1.1.1",
		Flags:      []byte{0, 0, 0, 0},
		MCUVersion: "4.03",
	}
	if !reflect.DeepEqual(info, want) {
		t.Fatalf("got %+v, want %+v", info, want)
	}
	if info.Model() != "Nano S Plus" || info.Bootloader() {
		t.Fatalf("model=%q bootloader=%v", info.Model(), info.Bootloader())
	}
}

func TestParseGetVersionResponseTruncated(t *testing.T) {
	if _, err := parseGetVersionResponse(parseHexString("33-10-00-04-09-31")); err == nil {
		t.Fatal("expected error for truncated SE version")
	}
}

func TestParseListAppsResponse(t *testing.T) {
	page := listPage(appEntry("Bitcoin", 0x11), appEntry("Solana", 0x22))

	apps, err := parseListAppsResponse(page)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(apps) != 2 {
		t.Fatalf("got %d apps, want 2", len(apps))
	}
	if apps[0].Name != "Bitcoin" || apps[1].Name != "Solana" {
		t.Fatalf("unexpected names: %+v", apps)
	}
	if apps[0].Flags != 0x0800 || apps[1].Hash != strings.Repeat("22", 32) {
		t.Fatalf("unexpected entry: %+v", apps[1])
	}

	if _, err := parseListAppsResponse([]byte{0x01, 0x05, 0x00}); err == nil {
		t.Fatal("expected error for short entry")
	}
}

func TestOpen(t *testing.T) {
	fido := hid.Info{Path: "fido", VendorID: VendorID, UsagePage: 0xf1d0, Interface: 1}
	generic := hid.Info{Path: "generic", VendorID: VendorID, UsagePage: 0xffa0, Interface: 0}
	other := hid.Info{Path: "keyboard", VendorID: 0x046d}

	t.Run("prefers generic interface", func(t *testing.T) {
		mgr := &hid.MockManager{
			Infos:   []hid.Info{other, fido, generic},
			Devices: map[string]hid.Device{"fido": hid.NewMockDevice(), "generic": hid.NewMockDevice()},
		}
		if _, err := Open(mgr, DefaultEndpoints); err != nil {
			t.Fatalf("open: %v", err)
		}
		if !reflect.DeepEqual(mgr.Opened, []string{"generic"}) {
			t.Fatalf("opened %v", mgr.Opened)
		}
	})

	t.Run("falls back to interface number", func(t *testing.T) {
		fidoNoPage := hid.Info{Path: "/dev/hidraw1", VendorID: VendorID, Interface: 1}
		genericNoPage := hid.Info{Path: "/dev/hidraw0", VendorID: VendorID, Interface: 0}
		mgr := &hid.MockManager{
			Infos:   []hid.Info{fidoNoPage, genericNoPage},
			Devices: map[string]hid.Device{"/dev/hidraw1": hid.NewMockDevice(), "/dev/hidraw0": hid.NewMockDevice()},
		}
		if _, err := Open(mgr, DefaultEndpoints); err != nil {
			t.Fatalf("open: %v", err)
		}
		if !reflect.DeepEqual(mgr.Opened, []string{"/dev/hidraw0"}) {
			t.Fatalf("opened %v", mgr.Opened)
		}
	})

	t.Run("no device", func(t *testing.T) {
		mgr := &hid.MockManager{Infos: []hid.Info{other}}
		if _, err := Open(mgr, DefaultEndpoints); !errors.Is(err, ErrNoDevice) {
			t.Fatalf("got %v, want ErrNoDevice", err)
		}
	})

	t.Run("aggregates open failures", func(t *testing.T) {
		mgr := &hid.MockManager{
			Infos: []hid.Info{fido, generic},
			OpenErrors: map[string]error{
				"fido":    errors.New("busy"),
				"generic": errors.New("permission denied"),
			},
		}
		_, err := Open(mgr, DefaultEndpoints)
		var merr *multierror.Error
		if !errors.As(err, &merr) || len(merr.Errors) != 2 {
			t.Fatalf("expected two aggregated errors, got %v", err)
		}
	})
}

// fakeDevice answers dashboard APDUs and accepts everything the HSM sends.
type fakeDevice struct {
	mu       sync.Mutex
	apps     []byte
	relayed  [][]byte
	statusOn map[byte]uint16
}

func (f *fakeDevice) Exchange(_ context.Context, cmd []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ok := []byte{0x90, 0x00}
	if code, found := f.statusOn[cmd[1]]; found && cmd[0] == apdu.ClassDashboard {
		return []byte{byte(code >> 8), byte(code)}, nil
	}
	switch {
	case cmd[0] == apdu.ClassDashboard && cmd[1] == ledger_GETVERSION_INS:
		return append(parseHexString(getVersionResponse), ok...), nil
	case cmd[0] == apdu.ClassDashboard && cmd[1] == ledger_LISTAPPS_FIRST_INS:
		return append(append([]byte(nil), f.apps...), ok...), nil
	case cmd[0] == apdu.ClassDashboard && cmd[1] == ledger_LISTAPPS_NEXT_INS:
		return ok, nil
	default:
		f.relayed = append(f.relayed, append([]byte(nil), cmd...))
		return ok, nil
	}
}

type script struct {
	Path     string
	Firmware string
	Perso    string
}

// managerServer fakes both the manager API and the HSM script runner.
type managerServer struct {
	*httptest.Server
	mu      sync.Mutex
	scripts []script
	verdict string
	warning string
}

func newManagerServer(t *testing.T, catalog []AppVersion) *managerServer {
	t.Helper()
	ms := &managerServer{verdict: genuineResultOK}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/get_device_version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(DeviceVersion{ID: 17, Name: "Nano S Plus", TargetID: "856686596"})
	})
	mux.HandleFunc("/api/get_firmware_version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(FirmwareVersion{ID: 42, Name: "1.1.1", Perso: "perso_11"})
	})
	mux.HandleFunc("/api/get_apps", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"application_versions": catalog})
	})
	relay := func(w http.ResponseWriter, r *http.Request) {
		ms.mu.Lock()
		ms.scripts = append(ms.scripts, script{
			Path:     r.URL.Path,
			Firmware: r.URL.Query().Get("firmware"),
			Perso:    r.URL.Query().Get("perso"),
		})
		ms.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var reply hsmReply
		_ = conn.WriteJSON(map[string]any{"nonce": 1, "query": "exchange", "data": "e0500000"})
		if err := conn.ReadJSON(&reply); err != nil || reply.Response != "success" {
			return
		}
		if strings.HasSuffix(r.URL.Path, "/genuine") {
			ms.mu.Lock()
			verdict, warning := ms.verdict, ms.warning
			ms.mu.Unlock()
			if warning != "" {
				_ = conn.WriteJSON(map[string]any{"nonce": 2, "query": "warning", "data": warning})
			}
			_ = conn.WriteJSON(map[string]any{"nonce": 2, "query": "success", "result": verdict})
			return
		}
		_ = conn.WriteJSON(map[string]any{"nonce": 2, "query": "bulk", "data": []string{"e0f00000", "e0f10000"}})
		if err := conn.ReadJSON(&reply); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	mux.HandleFunc("/update/genuine", relay)
	mux.HandleFunc("/update/install", relay)

	ms.Server = httptest.NewServer(mux)
	t.Cleanup(ms.Close)
	return ms
}

func (ms *managerServer) endpoints() Endpoints {
	return Endpoints{
		ManagerAPI:   ms.URL + "/api",
		ScriptRunner: "ws" + strings.TrimPrefix(ms.URL, "http") + "/update",
		Provider:     1,
	}
}

func (ms *managerServer) Scripts() []script {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]script(nil), ms.scripts...)
}

var bitcoinLatest = AppVersion{
	Name:        "Bitcoin",
	Version:     "2.2.0",
	Perso:       "perso_11",
	Hash:        strings.Repeat("aa", 32),
	Firmware:    "nanos+/1.1.1/bitcoin/app_2.2.0",
	FirmwareKey: "nanos+/1.1.1/bitcoin/app_2.2.0_key",
	Delete:      "nanos+/1.1.1/bitcoin/app_2.2.0_del",
	DeleteKey:   "nanos+/1.1.1/bitcoin/app_2.2.0_del_key",
}

func TestGenuineCheck(t *testing.T) {
	ms := newManagerServer(t, nil)
	dev := &fakeDevice{}
	d := NewDevice(dev, ms.endpoints())

	if err := d.GenuineCheck(context.Background()); err != nil {
		t.Fatalf("genuine check: %v", err)
	}
	scripts := ms.Scripts()
	if len(scripts) != 1 || scripts[0].Path != "/update/genuine" || scripts[0].Perso != "perso_11" {
		t.Fatalf("unexpected scripts: %+v", scripts)
	}
	if len(dev.relayed) != 1 {
		t.Fatalf("expected one relayed apdu, got %d", len(dev.relayed))
	}

	ms.mu.Lock()
	ms.verdict = "0001"
	ms.mu.Unlock()
	if err := d.GenuineCheck(context.Background()); !errors.Is(err, ErrNotGenuine) {
		t.Fatalf("got %v, want ErrNotGenuine", err)
	}
}

func TestGenuineCheckWarningKeepsStderrQuiet(t *testing.T) {
	var stderr bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ms := newManagerServer(t, nil)
	ms.warning = "slow network"
	d := NewDevice(&fakeDevice{}, ms.endpoints())

	if err := d.GenuineCheck(context.Background()); err != nil {
		t.Fatalf("genuine check: %v", err)
	}
	if stderr.Len() != 0 {
		t.Fatalf("expected nothing at warn level, got %q", stderr.String())
	}
}

func TestInstallApp(t *testing.T) {
	tests := []struct {
		name        string
		installed   []byte
		app         AppID
		wantErr     error
		wantScripts int
	}{
		{name: "installs", installed: listPage(), app: AppBitcoin, wantScripts: 1},
		{name: "already installed", installed: listPage(appEntry("Bitcoin", 0x01)), app: AppBitcoin, wantErr: ErrAlreadyInstalled},
		{name: "not in catalog", installed: listPage(), app: AppSolana, wantErr: ErrAppNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := newManagerServer(t, []AppVersion{bitcoinLatest})
			dev := &fakeDevice{apps: tt.installed}
			d := NewDevice(dev, ms.endpoints())

			err := d.InstallApp(context.Background(), tt.app)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			if got := len(ms.Scripts()); got != tt.wantScripts {
				t.Fatalf("got %d HSM scripts, want %d", got, tt.wantScripts)
			}
			if tt.wantScripts > 0 && len(dev.relayed) != 3 {
				t.Fatalf("expected 3 relayed apdus, got %d", len(dev.relayed))
			}
		})
	}
}

func TestUpdateApp(t *testing.T) {
	tests := []struct {
		name      string
		installed []byte
		app       AppID
		wantErr   error
	}{
		{name: "updates", installed: listPage(appEntry("Bitcoin", 0x01)), app: AppBitcoin},
		{name: "not installed", installed: listPage(), app: AppBitcoin, wantErr: ErrNotInstalled},
		{name: "not in catalog", installed: listPage(appEntry("Solana", 0x01)), app: AppSolana, wantErr: ErrAppNotFound},
		{name: "already latest", installed: listPage(appEntry("Bitcoin", 0xaa)), app: AppBitcoin, wantErr: ErrAlreadyLatest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := newManagerServer(t, []AppVersion{bitcoinLatest})
			d := NewDevice(&fakeDevice{apps: tt.installed}, ms.endpoints())

			err := d.UpdateApp(context.Background(), tt.app)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}

			scripts := ms.Scripts()
			if tt.wantErr != nil {
				if len(scripts) != 0 {
					t.Fatalf("no HSM script should run, got %+v", scripts)
				}
				return
			}
			want := []string{bitcoinLatest.Delete, bitcoinLatest.Firmware}
			if len(scripts) != 2 || scripts[0].Firmware != want[0] || scripts[1].Firmware != want[1] {
				t.Fatalf("expected uninstall then install, got %+v", scripts)
			}
		})
	}
}

func TestListAppsStatusError(t *testing.T) {
	d := NewDevice(&fakeDevice{statusOn: map[byte]uint16{ledger_LISTAPPS_FIRST_INS: 0x5501}}, DefaultEndpoints)

	_, err := d.ListApps(context.Background())
	if !apdu.IsStatus(err, 0x5501) {
		t.Fatalf("expected refusal status, got %v", err)
	}
}

func TestOpenApp(t *testing.T) {
	dev := &fakeDevice{}
	d := NewDevice(dev, DefaultEndpoints)

	if err := d.OpenApp(context.Background(), AppBitcoinTest); err != nil {
		t.Fatalf("open app: %v", err)
	}
	want := append([]byte{0xE0, 0xD8, 0x00, 0x00, byte(len(AppBitcoinTest))}, string(AppBitcoinTest)...)
	if len(dev.relayed) != 1 || !reflect.DeepEqual(dev.relayed[0], want) {
		t.Fatalf("unexpected apdu: % x", dev.relayed)
	}
}
