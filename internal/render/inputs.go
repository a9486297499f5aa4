package render

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/djlord-it/easy-invoice/internal/domain"
)

type LineItem struct {
	Description   string   `json:"description"`
	Quantity      float64  `json:"quantity"`
	UnitPrice     float64  `json:"unit_price"`
	VATPercentage *float64 `json:"btw_percentage,omitempty"`
}

func (li LineItem) vat() float64 {
	if li.VATPercentage == nil {
		return 21
	}
	return *li.VATPercentage
}

// Fields are the document values a template can show.
type Fields struct {
	Type      domain.DocumentType
	Number    string
	Date      string
	DueDate   string
	Company   string
	Customer  string
	LineItems []LineItem
	Subtotal  float64
	VAT       float64
	Total     float64
}

// FieldsFor collects the template values for doc. Line items that do not
// parse are left out rather than failing the render.
func FieldsFor(doc domain.Document, customer *domain.Customer, settings domain.CompanySettings) Fields {
	var items []LineItem
	if len(doc.LineItems) > 0 {
		_ = json.Unmarshal(doc.LineItems, &items)
	}

	name := doc.CustomerName
	if customer != nil && customer.Name != "" {
		name = customer.Name
	}

	return Fields{
		Type:      doc.Type,
		Number:    doc.Number,
		Date:      domain.FormatDate(doc.IssueDate),
		DueDate:   domain.FormatDate(doc.DueDate),
		Company:   settings.CompanyName,
		Customer:  name,
		LineItems: items,
		Subtotal:  doc.Subtotal,
		VAT:       doc.VATAmount,
		Total:     doc.TotalAmount,
	}
}

var lineField = regexp.MustCompile(`^regel(\d+)_(.+)$`)

// skipped field types keep their template content
var staticTypes = map[string]bool{"line": true, "rectangle": true, "ellipse": true, "svg": true, "image": true}

// Inputs maps f onto the field names declared in the first page schema of
// template. Unknown names are left to the template.
func Inputs(template json.RawMessage, f Fields) map[string]string {
	var tpl struct {
		Schemas []map[string]struct {
			Type string `json:"type"`
		} `json:"schemas"`
	}
	if err := json.Unmarshal(template, &tpl); err != nil || len(tpl.Schemas) == 0 {
		return map[string]string{}
	}

	title := "FACTUUR"
	if f.Type == domain.DocumentTypeQuote {
		title = "OFFERTE"
	}

	out := map[string]string{}
	for name, def := range tpl.Schemas[0] {
		if staticTypes[def.Type] {
			continue
		}
		lower := strings.ToLower(name)

		switch lower {
		case "bedrijfsnaam", "company_name":
			out[name] = f.Company
		case "klant_naam", "customer_name":
			out[name] = f.Customer
		case "factuurnummer", "offerte_nummer", "documentnummer", "document_number":
			out[name] = f.Number
		case "datum", "date":
			out[name] = f.Date
		case "vervaldatum", "due_date":
			out[name] = f.DueDate
		case "factuur_titel", "offerte_titel", "document_titel", "titel", "title":
			out[name] = title
		case "subtotaal", "subtotal":
			out[name] = domain.FormatEuro(f.Subtotal)
		case "btw", "vat":
			out[name] = domain.FormatEuro(f.VAT)
		case "totaal", "total":
			out[name] = domain.FormatEuro(f.Total)
		case "betaalinfo", "betaalgegevens":
			if f.Number != "" {
				out[name] = "Ref: " + f.Number
			}
		default:
			if m := lineField.FindStringSubmatch(lower); m != nil {
				out[name] = lineValue(f.LineItems, m[1], m[2])
			}
		}
	}
	return out
}

func lineValue(items []LineItem, index, column string) string {
	i, err := strconv.Atoi(index)
	if err != nil || i < 1 || i > len(items) {
		return ""
	}
	item := items[i-1]
	switch column {
	case "omschrijving":
		return item.Description
	case "aantal":
		return strconv.FormatFloat(item.Quantity, 'f', -1, 64)
	case "prijs":
		return domain.FormatEuro(item.UnitPrice)
	case "totaal":
		return domain.FormatEuro(item.Quantity * item.UnitPrice)
	case "btw":
		return strconv.FormatFloat(item.vat(), 'f', -1, 64) + "%"
	}
	return ""
}
