package render

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/easy-invoice/internal/domain"
)

func TestHTTPRenderer_Render(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"pdf_url":"https://cdn/x.pdf","storage_path":"generated/x.pdf"}`))
	}))
	defer srv.Close()

	r := NewHTTPRenderer(srv.URL+"/", time.Second)
	art, err := r.Render(context.Background(), Request{
		Template: json.RawMessage(`{"schemas":[]}`),
		Inputs:   map[string]string{"datum": "01-01-2025"},
		Filename: "invoice_F-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "https://cdn/x.pdf", art.URL)
	assert.Equal(t, "generated/x.pdf", art.StoragePath)
	require.Len(t, got.Inputs, 1)
	assert.Equal(t, "01-01-2025", got.Inputs[0]["datum"])
	assert.Equal(t, "invoice_F-1", got.Filename)
}

func TestHTTPRenderer_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"template invalid"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPRenderer(srv.URL, time.Second).Render(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "template invalid")
}

func TestHTTPRenderer_MissingURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewHTTPRenderer(srv.URL, time.Second).Render(context.Background(), Request{})
	assert.Error(t, err)
}

func TestHTTPRenderer_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewHTTPRenderer(srv.URL, 50*time.Millisecond).Render(context.Background(), Request{})
	assert.Error(t, err)
}

func TestInputs_MapsKnownFields(t *testing.T) {
	tpl := json.RawMessage(`{"schemas":[{
		"Bedrijfsnaam":{"type":"text"},
		"factuurnummer":{"type":"text"},
		"datum":{"type":"text"},
		"vervaldatum":{"type":"text"},
		"titel":{"type":"text"},
		"regel1_omschrijving":{"type":"text"},
		"regel1_totaal":{"type":"text"},
		"regel1_btw":{"type":"text"},
		"regel2_omschrijving":{"type":"text"},
		"totaal":{"type":"text"},
		"divider":{"type":"line"},
		"label":{"type":"text"}
	}]}`)

	items := `[{"description":"Hosting","quantity":2,"unit_price":50}]`
	doc := domain.Document{
		Type:        domain.DocumentTypeInvoice,
		Number:      "F-2025-1",
		IssueDate:   time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		DueDate:     time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC),
		LineItems:   json.RawMessage(items),
		TotalAmount: 121,
	}
	settings := domain.DefaultCompanySettings(uuid.New())
	settings.CompanyName = "Studio"

	in := Inputs(tpl, FieldsFor(doc, nil, settings))

	assert.Equal(t, "Studio", in["Bedrijfsnaam"])
	assert.Equal(t, "F-2025-1", in["factuurnummer"])
	assert.Equal(t, "15-01-2025", in["datum"])
	assert.Equal(t, "14-02-2025", in["vervaldatum"])
	assert.Equal(t, "FACTUUR", in["titel"])
	assert.Equal(t, "Hosting", in["regel1_omschrijving"])
	assert.Equal(t, "€ 100,00", in["regel1_totaal"])
	assert.Equal(t, "21%", in["regel1_btw"])
	assert.Equal(t, "", in["regel2_omschrijving"])
	assert.Equal(t, "€ 121,00", in["totaal"])
	assert.NotContains(t, in, "divider")
	assert.NotContains(t, in, "label")
}

func TestInputs_InvalidTemplate(t *testing.T) {
	assert.Empty(t, Inputs(json.RawMessage(`not json`), Fields{}))
}
