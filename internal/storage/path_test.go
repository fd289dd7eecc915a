package storage

import "testing"

func TestBuildDataFilePath(t *testing.T) {
	key, err := BuildDataFilePath("u1", "customer", "part-0001.parquet")
	if err != nil {
		t.Fatalf("BuildDataFilePath() error = %v", err)
	}
	want := "tenants/u1/customer/part-0001.parquet"
	if key != want {
		t.Fatalf("BuildDataFilePath() = %q, want %q", key, want)
	}
}

func TestBuildDataFilePathRequiresParquet(t *testing.T) {
	if _, err := BuildDataFilePath("u1", "customer", "customers.csv"); err == nil {
		t.Fatal("expected error for non-parquet file")
	}
}

func TestBuildPathRejectsInvalidComponent(t *testing.T) {
	if _, err := TablePrefix("../oops", "customer"); err == nil {
		t.Fatal("expected invalid tenant error")
	}
	if _, err := TablePrefix("u1", "a/b"); err == nil {
		t.Fatal("expected invalid table error")
	}
}

func TestOwnedBy(t *testing.T) {
	tests := []struct {
		tenant string
		key    string
		want   bool
	}{
		{tenant: "u1", key: "tenants/u1/customer/a.parquet", want: true},
		{tenant: "u1", key: "/tenants/u1/sales/b.parquet", want: true},
		{tenant: "u1", key: "tenants/u10/customer/a.parquet", want: false},
		{tenant: "u1", key: "tenants/u1/../u2/customer/a.parquet", want: false},
		{tenant: "u1", key: "tenants/u1", want: false},
		{tenant: "", key: "tenants//customer/a.parquet", want: false},
	}
	for _, tt := range tests {
		if got := OwnedBy(tt.tenant, tt.key); got != tt.want {
			t.Fatalf("OwnedBy(%q, %q) = %v, want %v", tt.tenant, tt.key, got, tt.want)
		}
	}
}

func TestTenantOf(t *testing.T) {
	tests := map[string]string{
		"tenants/u1/customer/a.parquet":       "u1",
		"/tenants/acme-co/sales/b.parquet":    "acme-co",
		"tenants/u1/../u2/customer/a.parquet": "u2",
		"tenants/u1":                          "",
		"exports/u1/customer/a.parquet":       "",
		"tenants/../etc/passwd":               "",
	}
	for key, want := range tests {
		got, ok := TenantOf(key)
		if got != want || ok != (want != "") {
			t.Fatalf("TenantOf(%q) = %q, %v, want %q", key, got, ok, want)
		}
	}
}

func TestContentTypeFor(t *testing.T) {
	if got := ContentTypeFor("tenants/u1/customer/A.PARQUET"); got != ParquetContentType {
		t.Fatalf("ContentTypeFor(parquet) = %q", got)
	}
	if got := ContentTypeFor("tenants/u1/customer/notes.txt"); got != "application/octet-stream" {
		t.Fatalf("ContentTypeFor(txt) = %q", got)
	}
}
