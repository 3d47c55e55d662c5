// Package testutil provides a migrated in-memory database and fixtures for
// package tests.
package testutil

import (
	"context"
	"testing"

	"leadflow/internal/db"
	"leadflow/internal/models"
	"leadflow/internal/store"
)

// NewStores opens a fresh in-memory sqlite database with the real migrations.
func NewStores(t *testing.T) *store.Stores {
	t.Helper()
	conn, err := db.OpenAndMigrate(context.Background(), "sqlite://:memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return store.New(conn)
}

// Company inserts an active company with a contact email.
func Company(t *testing.T, st *store.Stores, name, phoneID string) *models.Company {
	t.Helper()
	c := &models.Company{
		Name:          name,
		PhoneNumberID: phoneID,
		AccessToken:   "token-" + phoneID,
		ContactEmail:  "contact@" + phoneID + ".example.com",
		Active:        true,
	}
	if err := st.Companies.Create(context.Background(), c); err != nil {
		t.Fatalf("create company: %v", err)
	}
	return c
}

// User upserts a user by chat number.
func User(t *testing.T, st *store.Stores, chatNumber string) *models.User {
	t.Helper()
	u, err := st.Users.Upsert(context.Background(), chatNumber, nil, store.Now())
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	return u
}

// Category inserts an active ticket category.
func Category(t *testing.T, st *store.Stores, companyID, name string) *models.TicketCategory {
	t.Helper()
	c := &models.TicketCategory{CompanyID: companyID, Name: name, Description: name + " issues", Active: true}
	if err := st.Companies.CreateCategory(context.Background(), c); err != nil {
		t.Fatalf("create category: %v", err)
	}
	return c
}

// Policy inserts a policy version, optionally active.
func Policy(t *testing.T, st *store.Stores, version string, active bool) *models.PolicyVersion {
	t.Helper()
	p := &models.PolicyVersion{Version: version, Title: "Privacy policy " + version, Body: "We process your data.", Active: active}
	if err := st.Policies.Create(context.Background(), p); err != nil {
		t.Fatalf("create policy: %v", err)
	}
	return p
}
