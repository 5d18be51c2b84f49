// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package core

import (
	"net/http"
	"net/netip"
	"time"

	"github.com/gin-gonic/gin"

	"flowpipe/collector/listener"
	"flowpipe/collector/wire"
)

type templatesParameters struct {
	Exporter string `form:"exporter"`
}

type templateField struct {
	EnterpriseID uint32 `json:"enterprise-id,omitempty"`
	ID           uint16 `json:"id"`
	Length       uint16 `json:"length"`
	Name         string `json:"name"`
}

type templateInfo struct {
	Exporter            string          `json:"exporter"`
	ObservationDomainID uint32          `json:"observation-domain-id"`
	Version             uint16          `json:"version"`
	TemplateID          uint16          `json:"template-id"`
	ScopeFields         []templateField `json:"scope-fields,omitempty"`
	Fields              []templateField `json:"fields"`
	Created             time.Time       `json:"created"`
	LastSeen            time.Time       `json:"last-seen"`
}

// templatesHTTPHandler lists the templates currently known. They can
// be restricted to one exporter.
func (c *Component) templatesHTTPHandler(gc *gin.Context) {
	var params templatesParameters
	if err := gc.ShouldBindQuery(&params); err != nil {
		gc.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	var exporter netip.Addr
	if params.Exporter != "" {
		var err error
		exporter, err = netip.ParseAddr(params.Exporter)
		if err != nil {
			gc.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
	}

	entries := c.d.Templates.Snapshot()
	result := make([]templateInfo, 0, len(entries))
	for _, entry := range entries {
		if exporter.IsValid() && entry.Session.Exporter != exporter {
			continue
		}
		result = append(result, templateInfo{
			Exporter:            entry.Session.Exporter.String(),
			ObservationDomainID: entry.Session.ObservationDomainID,
			Version:             entry.Version,
			TemplateID:          entry.TemplateID,
			ScopeFields:         c.describeFields(entry.Version, entry.ScopeFields, true),
			Fields:              c.describeFields(entry.Version, entry.Fields, false),
			Created:             entry.Created.UTC(),
			LastSeen:            entry.LastSeen.UTC(),
		})
	}
	gc.JSON(http.StatusOK, gin.H{"templates": result})
}

// describeFields names the fields of a template using the registry.
func (c *Component) describeFields(version uint16, fields []wire.FieldSpecifier, scope bool) []templateField {
	if len(fields) == 0 {
		return nil
	}
	result := make([]templateField, 0, len(fields))
	for _, f := range fields {
		tf := templateField{
			EnterpriseID: f.EnterpriseID,
			ID:           f.ID,
			Length:       f.Length,
		}
		if scope && version == wire.VersionNetFlow9 {
			element, _ := c.d.Registry.LookupScope(f.ID)
			tf.Name = element.Name
		} else {
			element, _ := c.d.Registry.Lookup(f.EnterpriseID, f.ID)
			tf.Name = element.Name
		}
		result = append(result, tf)
	}
	return result
}

// listenersHTTPHandler lists the listeners with their state.
func (c *Component) listenersHTTPHandler(gc *gin.Context) {
	result := make([]listener.Info, 0, len(c.listeners))
	for _, l := range c.listeners {
		result = append(result, l.Info())
	}
	gc.JSON(http.StatusOK, gin.H{"listeners": result})
}

// publisherHTTPHandler describes the publisher groups and their
// endpoints.
func (c *Component) publisherHTTPHandler(gc *gin.Context) {
	gc.JSON(http.StatusOK, gin.H{"groups": c.d.Publisher.Info()})
}
