// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultHomeDocumentClass is the Weaviate class holding documentation chunks.
const DefaultHomeDocumentClass = "HomeDocument"

// GetHomeDocumentSchema returns the class definition for documentation chunks.
//
// Vectors are supplied by the client (Vectorizer "none"). The metadata
// properties use field tokenization so device_type filters match exactly.
func GetHomeDocumentSchema(className string) *models.Class {
	if className == "" {
		className = DefaultHomeDocumentClass
	}
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       className,
		Description: "A chunk of home equipment documentation with its device metadata.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The chunk text.",
				Tokenization: "word",
			},
			{
				Name:            "file_name",
				DataType:        []string{"text"},
				Description:     "Original document file name.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "device_type",
				DataType:        []string{"text"},
				Description:     "Equipment category (furnace, hrv, water_heater, ...).",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "device_name",
				DataType:        []string{"text"},
				Description:     "Specific model number or name.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "manufacturer",
				DataType:        []string{"text"},
				Description:     "Brand or manufacturer.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
		},
	}
}

// EnsureWeaviateSchema creates the documentation class when it is missing.
func EnsureWeaviateSchema(ctx context.Context, client *weaviate.Client, className string) error {
	class := GetHomeDocumentSchema(className)
	slog.Info("Checking schema", "class", class.Class)

	if _, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		slog.Info("Schema already exists", "class", class.Class)
		return nil
	}

	slog.Info("Schema not found, creating it...", "class", class.Class)
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("failed to create schema for class %s: %w", class.Class, err)
	}
	slog.Info("Successfully created schema", "class", class.Class)
	return nil
}
