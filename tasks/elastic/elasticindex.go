package elastic

import (
	"io/ioutil"
	"strings"

	"github.com/cockroachdb/errors"
	elasticsearch7 "github.com/elastic/go-elasticsearch/v7"
	"github.com/skhatri/esurldump/model"
)

const (
	activityNamespace = "activity.*"
	partnerCodeField  = "activity.partnerCode"

	// PartialFieldName is the key hits carry their projected fields under.
	PartialFieldName = "part1"
)

func NewElasticClient(elasticConfig model.ElasticSearchConfig) (*elasticsearch7.Client, error) {
	elasticCfg := elasticsearch7.Config{
		Addresses: []string{
			elasticConfig.Host,
		},
	}

	if elasticConfig.Username != nil && elasticConfig.Password != nil {
		password := *elasticConfig.Password

		if strings.Index(password, "file:") == 0 {
			passwordData, err := ioutil.ReadFile(strings.Replace(password, "file:", "", 1))
			if err != nil {
				return nil, errors.Wrap(err, "could not read password file")
			}
			password = strings.TrimRight(string(passwordData), "\r\n")
		}
		elasticCfg.Username = *elasticConfig.Username
		elasticCfg.Password = password
	}

	client, err := elasticsearch7.NewClient(elasticCfg)
	if err != nil {
		return nil, errors.Wrapf(err, "elasticsearch client for %s", elasticConfig.Host)
	}
	return client, nil
}

// BuildQuery matches every document, or only those of partner when it is set.
// Hits carry just the activity.* fields under fields.part1.
func BuildQuery(partner *string) model.Query {
	q := map[string]interface{}{
		"match_all": map[string]interface{}{},
	}
	if partner != nil {
		q = map[string]interface{}{
			"match": map[string]interface{}{
				partnerCodeField: *partner,
			},
		}
	}
	return model.Query{
		Query: q,
		PartialFields: map[string]model.PartialField{
			PartialFieldName: {Include: activityNamespace},
		},
	}
}
