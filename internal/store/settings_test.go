package store

import "testing"

func TestSettingsGetReturnsDefaultsWhenAbsent(t *testing.T) {
	s := openTestStore(t)

	got, err := s.Settings.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	want := DefaultSettings()
	if got != want {
		t.Errorf("Get() = %+v, want defaults %+v", got, want)
	}
}

func TestSettingsUpdateRoundtrip(t *testing.T) {
	s := openTestStore(t)

	want := Settings{
		Language:        "fr",
		Theme:           "light",
		SortOrder:       "alpha",
		AutoLockTimeout: 30,
		SyncEnabled:     true,
		SyncEndpoint:    "https://relay.example.com",
	}
	if err := s.Settings.Update(want); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := s.Settings.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

func TestSettingsUpdateRejectsInvalidAutoLock(t *testing.T) {
	s := openTestStore(t)

	bad := DefaultSettings()
	bad.AutoLockTimeout = 5000
	if err := s.Settings.Update(bad); err == nil {
		t.Error("Update() with out-of-range auto-lock timeout succeeded, want error")
	}
}

func TestSettingsUpdateRejectsBadEndpointScheme(t *testing.T) {
	s := openTestStore(t)

	bad := DefaultSettings()
	bad.SyncEndpoint = "ftp://relay.example.com"
	if err := s.Settings.Update(bad); err == nil {
		t.Error("Update() with non-http(s) endpoint succeeded, want error")
	}
}

func TestSettingsNarrowSetters(t *testing.T) {
	s := openTestStore(t)

	if err := s.Settings.SetTheme("light"); err != nil {
		t.Fatalf("SetTheme() error = %v", err)
	}
	if err := s.Settings.SetSortOrder("alpha"); err != nil {
		t.Fatalf("SetSortOrder() error = %v", err)
	}
	if err := s.Settings.SetAutoLockTimeout(60); err != nil {
		t.Fatalf("SetAutoLockTimeout() error = %v", err)
	}
	if err := s.Settings.SetSyncEnabled(true); err != nil {
		t.Fatalf("SetSyncEnabled() error = %v", err)
	}
	if err := s.Settings.SetSyncEndpoint("https://relay.example.com"); err != nil {
		t.Fatalf("SetSyncEndpoint() error = %v", err)
	}

	got, err := s.Settings.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Theme != "light" || got.SortOrder != "alpha" || got.AutoLockTimeout != 60 ||
		!got.SyncEnabled || got.SyncEndpoint != "https://relay.example.com" {
		t.Errorf("Get() after narrow setters = %+v", got)
	}
}

func TestSettingsSetAutoLockTimeoutRejectsZero(t *testing.T) {
	s := openTestStore(t)

	if err := s.Settings.SetAutoLockTimeout(0); err == nil {
		t.Error("SetAutoLockTimeout(0) succeeded, want error")
	}
}
