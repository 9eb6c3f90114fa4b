package codec

import "github.com/riferrei/srclient"

// SrclientAdapter implements RegistryClient against the real
// riferrei/srclient schema-registry client.
type SrclientAdapter struct {
	Client *srclient.SchemaRegistryClient
}

// NewSrclientAdapter builds an adapter over a schema-registry client
// dialed at registryURL.
func NewSrclientAdapter(registryURL string) *SrclientAdapter {
	return &SrclientAdapter{Client: srclient.CreateSchemaRegistryClient(registryURL)}
}

func (a *SrclientAdapter) GetLatestSchema(subject string) (SchemaInfo, error) {
	s, err := a.Client.GetLatestSchema(subject)
	if err != nil {
		return SchemaInfo{}, err
	}
	return SchemaInfo{ID: s.ID(), Schema: s.Schema()}, nil
}

func (a *SrclientAdapter) CreateSchema(subject, schema string, schemaType srclient.SchemaType) (SchemaInfo, error) {
	s, err := a.Client.CreateSchema(subject, schema, schemaType)
	if err != nil {
		return SchemaInfo{}, err
	}
	return SchemaInfo{ID: s.ID(), Schema: s.Schema()}, nil
}

func (a *SrclientAdapter) GetSchemaByID(id int) (SchemaInfo, error) {
	s, err := a.Client.GetSchema(id)
	if err != nil {
		return SchemaInfo{}, err
	}
	return SchemaInfo{ID: s.ID(), Schema: s.Schema()}, nil
}
