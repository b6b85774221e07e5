package matching

import (
	"strings"

	"github.com/okian/sheetsync/internal/domain/model"
)

var (
	fileNameKeywords = []string{
		"文件名", "文件名称", "文件", "名", "名称", "标题", "title", "name", "filename",
		"商品名称", "产品名称", "物品名称", "item_name", "product_name",
	}
	fileSizeKeywords = []string{
		"文件大小", "文件尺寸", "大小", "尺寸", "size", "filesize",
		"商品大小", "产品大小", "容量", "容量大小",
	}
	fileTypeKeywords = []string{
		"文件类型", "文件格式", "类型", "格式", "type", "format", "后缀", "ext",
		"商品类型", "产品类型", "分类", "category",
	}
	fileURLKeywords = []string{
		"文件链接", "链接地址", "链接", "url", "link", "地址", "网址",
		"图片链接", "图片地址", "图片url", "image_url", "image_link",
		"商品链接", "产品链接", "商品地址", "product_url",
	}
	uploadTimeKeywords = []string{
		"上传时间", "时间", "日期", "date", "time", "时间戳", "timestamp",
		"创建时间", "创建日期", "created_time", "created_date",
		"更新时间", "更新日期", "updated_time", "updated_date",
	}
)

// MapMetadataFields assigns the upload metadata roles to target field names.
// Names are scanned in schema order and the first hit for a role keeps it;
// one field may serve several roles.
func MapMetadataFields(names []string) model.MetadataMapping {
	var m model.MetadataMapping
	roles := []struct {
		dst      *string
		keywords []string
	}{
		{&m.FileName, fileNameKeywords},
		{&m.FileSize, fileSizeKeywords},
		{&m.FileType, fileTypeKeywords},
		{&m.FileURL, fileURLKeywords},
		{&m.UploadTime, uploadTimeKeywords},
	}
	for _, name := range names {
		lower := strings.ToLower(name)
		for _, r := range roles {
			if *r.dst == "" && containsAny(lower, r.keywords) {
				*r.dst = name
			}
		}
	}
	return m
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
