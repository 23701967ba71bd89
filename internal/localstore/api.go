package localstore

import "encoding/xml"

const s3XMLNamespace = "http://s3.amazonaws.com/doc/2006-03-01/"

// S3Error is the minimal S3-style XML error body.
type S3Error struct {
	XMLName  xml.Name `xml:"Error"`
	Code     string   `xml:"Code"`
	Message  string   `xml:"Message"`
	Resource string   `xml:"Resource"`
}

// ListAllMyBucketsResult is the XML response for the S3 ListBuckets API.
type ListAllMyBucketsResult struct {
	XMLName xml.Name                `xml:"ListAllMyBucketsResult"`
	XMLNS   string                  `xml:"xmlns,attr"`
	Owner   ListAllMyBucketsOwner   `xml:"Owner"`
	Buckets []ListAllMyBucketsEntry `xml:"Buckets>Bucket"`
}

type ListAllMyBucketsOwner struct {
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName"`
}

type ListAllMyBucketsEntry struct {
	Name         string `xml:"Name"`
	CreationDate string `xml:"CreationDate"`
}

// ListBucketResult is the XML response for the S3 ListObjects API.
type ListBucketResult struct {
	XMLName     xml.Name        `xml:"ListBucketResult"`
	XMLNS       string          `xml:"xmlns,attr"`
	Name        string          `xml:"Name"`
	Prefix      string          `xml:"Prefix"`
	MaxKeys     int             `xml:"MaxKeys"`
	IsTruncated bool            `xml:"IsTruncated"`
	Contents    []ObjectSummary `xml:"Contents"`
}

// ObjectSummary is a single entry in a ListBucketResult.
type ObjectSummary struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}
