package models

import (
	"path"
	"strings"
	"time"
)

// CourseAsset links a stored asset to the content entity that uses it
type CourseAsset struct {
	ID                  string    `json:"_id" bson:"_id"`
	CourseID            string    `json:"_courseId" bson:"_courseId"`
	ContentType         Kind      `json:"_contentType" bson:"_contentType"`
	ContentTypeID       string    `json:"_contentTypeId" bson:"_contentTypeId"`
	ContentTypeParentID string    `json:"_contentTypeParentId" bson:"_contentTypeParentId"`
	AssetID             string    `json:"_assetId" bson:"_assetId"`
	CreatedBy           string    `json:"createdBy" bson:"createdBy"`
	CreatedAt           time.Time `json:"createdAt" bson:"createdAt"`
}

// Asset represents a binary file held by the asset store
type Asset struct {
	ID         string    `json:"_id" bson:"_id"`
	Title      string    `json:"title" bson:"title"`
	Filename   string    `json:"filename" bson:"filename"`
	Repository string    `json:"repository" bson:"repository"`
	Path       string    `json:"path" bson:"path"`
	MimeType   string    `json:"mimeType" bson:"mimeType"`
	Size       int64     `json:"size" bson:"size"`
	CreatedBy  string    `json:"createdBy" bson:"createdBy"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
}

// PackageExtension is the file extension of interactive content packages
const PackageExtension = ".h5p"

// IsPackage reports whether the asset is an interactive content package
func (a Asset) IsPackage() bool {
	return strings.EqualFold(path.Ext(a.Filename), PackageExtension)
}

// PackageName returns the filename without the package extension
func (a Asset) PackageName() string {
	return strings.TrimSuffix(a.Filename, path.Ext(a.Filename))
}
