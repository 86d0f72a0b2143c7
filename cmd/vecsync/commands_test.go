package main

import "testing"

func TestParseS3URI(t *testing.T) {
	cases := []struct {
		in      string
		bucket  string
		prefix  string
		wantErr bool
	}{
		{in: "s3://bucket/docs/", bucket: "bucket", prefix: "docs/"},
		{in: "s3://bucket", bucket: "bucket", prefix: ""},
		{in: "s3://bucket/deep/nested/key.txt", bucket: "bucket", prefix: "deep/nested/key.txt"},
		{in: "http://bucket/docs", wantErr: true},
		{in: "bucket/docs", wantErr: true},
		{in: "s3://", wantErr: true},
	}

	for _, tc := range cases {
		got, err := parseS3URI(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseS3URI(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseS3URI(%q): %v", tc.in, err)
			continue
		}
		if got.Bucket != tc.bucket || got.Prefix != tc.prefix {
			t.Errorf("parseS3URI(%q) = %+v, want bucket %q prefix %q", tc.in, got, tc.bucket, tc.prefix)
		}
	}
}
