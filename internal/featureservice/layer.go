package featureservice

import (
	"context"
	"fmt"
	"net/url"

	"detectedits-go/internal/detect"
)

type layerResponse struct {
	Name   string `json:"name"`
	Fields []struct {
		Name  string `json:"name"`
		Alias string `json:"alias"`
		Type  string `json:"type"`
	} `json:"fields"`
	EditFieldsInfo *struct {
		CreationDateField string `json:"creationDateField"`
		CreatorField      string `json:"creatorField"`
		EditDateField     string `json:"editDateField"`
		EditorField       string `json:"editorField"`
	} `json:"editFieldsInfo"`
	Error *remoteError `json:"error"`
}

// LayerInfo fetches the layer's fields and editor-tracking configuration.
func (c *Client) LayerInfo(ctx context.Context, layerURL, token string) (*detect.LayerInfo, error) {
	var resp layerResponse
	params := url.Values{"f": {"pjson"}, "token": {token}}
	if err := c.get(ctx, layerURL, params, &resp); err != nil {
		return nil, fmt.Errorf("layer info: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("layer info: %s", resp.Error.Message)
	}

	if resp.EditFieldsInfo == nil || resp.EditFieldsInfo.CreationDateField == "" {
		return nil, &detect.TrackingNotEnabledError{LayerURL: layerURL}
	}

	info := &detect.LayerInfo{
		Name: resp.Name,
		Tracking: detect.EditTracking{
			CreationDateField: resp.EditFieldsInfo.CreationDateField,
			CreatorField:      resp.EditFieldsInfo.CreatorField,
			EditDateField:     resp.EditFieldsInfo.EditDateField,
			EditorField:       resp.EditFieldsInfo.EditorField,
		},
	}
	for _, f := range resp.Fields {
		info.Fields = append(info.Fields, detect.NewFieldDescriptor(f.Name, f.Alias, f.Type))
	}

	c.logger.Debug("layer info fetched", "layer", resp.Name, "fields", len(info.Fields),
		"creation_field", info.Tracking.CreationDateField)
	return info, nil
}
