package param

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/odemehub/odemehub/provider"
)

// The gateway speaks SOAP 1.1. Requests are built field by field with every
// value escaped through encoding/xml, so a card-holder name or order
// description containing & < > " ' cannot break out of its element.

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	serviceNS      = "https://turkpos.com.tr/"
)

// soapField is one named element inside the operation body. A field has
// either a text value or child fields. Order is preserved as given.
type soapField struct {
	Name     string
	Value    string
	Children []soapField
}

// buildEnvelope renders a complete SOAP 1.1 request envelope for one
// service operation.
func buildEnvelope(operation string, fields []soapField) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(`<soap:Envelope xmlns:soap="` + soapEnvelopeNS + `"><soap:Body>`)
	fmt.Fprintf(&buf, `<%s xmlns="%s">`, operation, serviceNS)

	if err := writeFields(&buf, fields); err != nil {
		return nil, err
	}

	fmt.Fprintf(&buf, "</%s>", operation)
	buf.WriteString(`</soap:Body></soap:Envelope>`)
	return buf.Bytes(), nil
}

func writeFields(buf *bytes.Buffer, fields []soapField) error {
	for _, f := range fields {
		fmt.Fprintf(buf, "<%s>", f.Name)
		if len(f.Children) > 0 {
			if err := writeFields(buf, f.Children); err != nil {
				return err
			}
		} else if err := xml.EscapeText(buf, []byte(f.Value)); err != nil {
			return err
		}
		fmt.Fprintf(buf, "</%s>", f.Name)
	}
	return nil
}

// soapActionFor returns the SOAPAction header value of an operation
func soapActionFor(operation string) string {
	return serviceNS + operation
}

// operationResult is the shared result shape of the gateway's operations.
// Sonuc carries the result code ("1" and "00" are success, a lone "0" and
// negatives are failures), Sonuc_Str the human-readable message.
type operationResult struct {
	Sonuc         string `xml:"Sonuc"`
	SonucStr      string `xml:"Sonuc_Str"`
	IslemID       string `xml:"Islem_ID"`
	IslemGUID     string `xml:"Islem_GUID"`
	UCDHTML       string `xml:"UCD_HTML"`
	UCDMD         string `xml:"UCD_MD"`
	SiparisID     string `xml:"Siparis_ID"`
	DekontID      string `xml:"Dekont_ID"`
	BankaSonucKod string `xml:"Banka_Sonuc_Kod"`
	OdemeTutari   string `xml:"Odeme_Tutari"`
	Tutar         string `xml:"Tutar"`
	DurumStr      string `xml:"Durum_Str"`

	DTBilgi rateTable `xml:"DT_Bilgi"`
}

// rateTable is the installment rate data the terminal reports. Each row
// carries a card family name and MO_<nn> columns: the percent surcharge for
// nn installments, negative when the plan is closed for that family.
type rateTable struct {
	Rows []rateRow `xml:",any"`
}

type rateRow struct {
	BankName string     `xml:"Kredi_Karti_Banka"`
	Cells    []rateCell `xml:",any"`
}

type rateCell struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type installmentRate struct {
	count   int
	percent float64
}

// rates extracts the row's MO_<nn> columns as (count, percent) pairs in
// ascending count order. Closed plans (negative rate) and unparsable cells
// are skipped.
func (r rateRow) rates() []installmentRate {
	var out []installmentRate
	for _, cell := range r.Cells {
		name := cell.XMLName.Local
		if !strings.HasPrefix(name, "MO_") {
			continue
		}
		count, err := strconv.Atoi(strings.TrimPrefix(name, "MO_"))
		if err != nil || count < 1 {
			continue
		}
		percent, err := provider.ParseAmount(cell.Value)
		if err != nil || percent < 0 {
			continue
		}
		out = append(out, installmentRate{count: count, percent: percent})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].count < out[j].count })
	return out
}

// parseResult extracts the operation result from a response envelope.
// Elements are matched by local name, so namespace prefixes in the answer
// do not matter. The response shape is Body > <op>Response > <op>Result;
// the operation name varies per call, so the two inner levels are decoded
// through the body's raw inner XML instead of a static path tag.
func parseResult(body []byte) (*operationResult, error) {
	var envelope struct {
		Body struct {
			Inner []byte `xml:",innerxml"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}

	var response struct {
		Result operationResult `xml:",any"`
	}
	if err := xml.Unmarshal(envelope.Body.Inner, &response); err != nil {
		return nil, err
	}
	return &response.Result, nil
}
