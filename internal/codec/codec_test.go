package codec

import (
	"testing"

	"github.com/riferrei/srclient"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	schema      SchemaInfo
	getCalls    int
	createCalls int
}

func (f *fakeRegistry) GetLatestSchema(_ string) (SchemaInfo, error) {
	f.getCalls++
	return f.schema, nil
}

func (f *fakeRegistry) CreateSchema(_, _ string, _ srclient.SchemaType) (SchemaInfo, error) {
	f.createCalls++
	return f.schema, nil
}

func (f *fakeRegistry) GetSchemaByID(_ int) (SchemaInfo, error) {
	return f.schema, nil
}

func TestSubject_NoKeyValueSuffix(t *testing.T) {
	require.Equal(t, "orders-OrderPlaced", Subject("orders", "OrderPlaced"))
}

func TestCache_JSONSchemaRoundTrip(t *testing.T) {
	reg := &fakeRegistry{schema: SchemaInfo{ID: 7, Schema: `{"type":"object"}`}}
	c := New(reg, false)

	type payload struct {
		Name string `json:"name"`
	}

	encoded, err := c.EncodeJSONSchema("orders", "OrderPlaced", "", payload{Name: "widget"})
	require.NoError(t, err)
	require.Equal(t, byte(0x00), encoded[0])

	var decoded payload
	require.NoError(t, c.DecodeJSONSchema(encoded, &decoded))
	require.Equal(t, "widget", decoded.Name)
}

func TestCache_SchemaFetchIsMemoizedPerSubject(t *testing.T) {
	reg := &fakeRegistry{schema: SchemaInfo{ID: 1, Schema: `{"type":"object"}`}}
	c := New(reg, false)

	_, err := c.EncodeJSONSchema("orders", "OrderPlaced", "", map[string]string{"a": "b"})
	require.NoError(t, err)
	_, err = c.EncodeJSONSchema("orders", "OrderPlaced", "", map[string]string{"a": "c"})
	require.NoError(t, err)

	require.Equal(t, 1, reg.getCalls)
}

func TestCache_AvroRoundTrip(t *testing.T) {
	avroSchema := `{"type":"record","name":"Widget","fields":[{"name":"name","type":"string"}]}`
	reg := &fakeRegistry{schema: SchemaInfo{ID: 3, Schema: avroSchema}}
	c := New(reg, false)

	type widget struct {
		Name string `avro:"name"`
	}

	encoded, err := c.EncodeAvro("widgets", "Widget", "", widget{Name: "gadget"})
	require.NoError(t, err)

	var decoded widget
	require.NoError(t, c.DecodeAvro(encoded, &decoded))
	require.Equal(t, "gadget", decoded.Name)
}
