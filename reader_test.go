package kvtree_test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/bsm/kvtree"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

var _ = Describe("Reader", func() {
	var subject *kvtree.Reader

	// The following will seed 100 keys into 4 blocks:
	//
	// B0: key.000000..key.000108
	// B1: key.000112..key.000220
	// B2: key.000224..key.000332
	// B3: key.000336..key.000396
	//
	BeforeEach(func() {
		var err error
		subject, err = seedReader(100, seedOptions)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should init", func() {
		Expect(subject.NumBlocks()).To(Equal(4))
		Expect(subject.NumKeys()).To(Equal(int64(100)))
		Expect(subject.BlockSize()).To(Equal(4096))

		r10k, err := seedReader(10000, seedOptions)
		Expect(err).NotTo(HaveOccurred())
		Expect(r10k.NumBlocks()).To(Equal(358))
	})

	It("should Get/Append", func() {
		for i := 0; i < 100; i++ {
			sfx := fmt.Sprintf("%08d", i*4)
			Expect(subject.Get(seedKey(i))).To(HaveSuffix(sfx), "for %d", i)
		}

		val, err := subject.Append([]byte("prefix"), seedKey(3))
		Expect(err).NotTo(HaveOccurred())
		Expect(val).To(HaveLen(6 + 128))
		Expect(val).To(HavePrefix("prefix"))
		Expect(val).To(HaveSuffix("00000012"))

		for _, key := range []string{"", "a", "key.000001", "key.000110", "key.000395", "key.000396\x00", "key.000400", "z"} {
			_, err := subject.Get([]byte(key))
			Expect(err).To(MatchError(kvtree.ErrNotFound), "for %q", key)
		}
	})

	It("should lookup", func() {
		iter, err := subject.Lookup(seedKey(50))
		Expect(err).NotTo(HaveOccurred())
		defer iter.Release()

		Expect(iter.Key()).To(Equal(seedKey(50)))
		Expect(iter.Done()).To(BeFalse())
		Expect(iter.Next()).To(BeTrue())
		Expect(iter.Key()).To(Equal(seedKey(51)))

		_, err = subject.Lookup([]byte("key.000201"))
		Expect(err).To(MatchError(kvtree.ErrNotFound))
	})

	It("should decode keys in groups", func() {
		for _, n := range []int{1, 3, 28, 1000} {
			buf := new(bytes.Buffer)
			Expect(seedFile(buf, 100, seedOptions)).To(Succeed())

			reader, err := kvtree.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()), &kvtree.ReaderOptions{CacheGroupSize: n})
			Expect(err).NotTo(HaveOccurred())

			iter, err := reader.Iterator()
			Expect(err).NotTo(HaveOccurred())
			Expect(collectKeys(iter)).To(HaveLen(100), "for %d", n)
			Expect(reader.Get(seedKey(99))).To(HaveSuffix("00000396"), "for %d", n)
		}
	})

	It("should reject invalid files", func() {
		_, err := kvtree.NewReader(bytes.NewReader([]byte("short")), 5, nil)
		Expect(err).To(MatchError(kvtree.ErrTruncated))
		Expect(kvtree.IsFormatError(err)).To(BeTrue())

		junk := bytes.Repeat([]byte{0xf0}, 64)
		_, err = kvtree.NewReader(bytes.NewReader(junk), int64(len(junk)), nil)
		Expect(err).To(MatchError(kvtree.ErrBadMagic))
		Expect(kvtree.IsFormatError(err)).To(BeTrue())

		buf := new(bytes.Buffer)
		Expect(seedFile(buf, 10, seedOptions)).To(Succeed())
		data := buf.Bytes()
		footer := data[len(data)-kvtree.FooterSize:]

		// swap vocabulary and manifest offsets
		vocabularyOffset := binary.BigEndian.Uint64(footer[0:])
		manifestOffset := binary.BigEndian.Uint64(footer[8:])
		binary.BigEndian.PutUint64(footer[0:], manifestOffset)
		binary.BigEndian.PutUint64(footer[8:], vocabularyOffset)

		_, err = kvtree.NewReader(bytes.NewReader(data), int64(len(data)), nil)
		Expect(errors.Cause(err)).To(Equal(kvtree.ErrCorrupt))
		Expect(kvtree.IsFormatError(err)).To(BeTrue())

		Expect(kvtree.IsFormatError(kvtree.ErrNotFound)).To(BeFalse())
	})

	It("should reject blocks with corrupt value offsets", func() {
		buf := new(bytes.Buffer)
		w := kvtree.NewWriter(buf, nil)
		Expect(w.Append([]byte("a"), []byte("x"))).To(Succeed())
		Expect(w.Append([]byte("b"), []byte("y"))).To(Succeed())
		Expect(w.Close()).To(Succeed())

		data := buf.Bytes()
		Expect(data[:8]).To(Equal([]byte{0x82, 0x81, 'a', 0x81, 0x80, 0x81, 'b', 0x80}))
		data[3] = 0xff

		reader, err := kvtree.NewReader(bytes.NewReader(data), int64(len(data)), nil)
		Expect(err).NotTo(HaveOccurred())

		_, err = reader.Get([]byte("a"))
		Expect(err).To(MatchError(kvtree.ErrCorrupt))
		Expect(kvtree.IsFormatError(err)).To(BeTrue())

		_, err = reader.Get([]byte("b"))
		Expect(kvtree.IsFormatError(err)).To(BeTrue())

		_, err = reader.Iterator()
		Expect(kvtree.IsFormatError(err)).To(BeTrue())
	})

	It("should reject vocabularies with out of range header lengths", func() {
		buf := new(bytes.Buffer)
		w := kvtree.NewWriter(buf, nil)
		Expect(w.Append([]byte("a"), []byte("x"))).To(Succeed())
		Expect(w.Append([]byte("b"), []byte("y"))).To(Succeed())
		Expect(w.Close()).To(Succeed())

		data := buf.Bytes()
		footer := data[len(data)-kvtree.FooterSize:]
		vocabularyOffset := binary.BigEndian.Uint64(footer[0:])
		manifestOffset := binary.BigEndian.Uint64(footer[8:])
		Expect(data[vocabularyOffset:manifestOffset]).To(Equal([]byte{0, 0, 0, 2, 'b', 0, 0x81, 'a', 0x80, 0x88}))

		// replace the header length with 1<<63
		hlen := []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0x81}
		bad := append([]byte(nil), data[:manifestOffset-1]...)
		bad = append(bad, hlen...)
		bad = append(bad, data[manifestOffset:]...)
		binary.BigEndian.PutUint64(bad[len(bad)-kvtree.FooterSize+8:], manifestOffset-1+uint64(len(hlen)))

		_, err := kvtree.NewReader(bytes.NewReader(bad), int64(len(bad)), nil)
		Expect(errors.Cause(err)).To(Equal(kvtree.ErrCorrupt))
		Expect(kvtree.IsFormatError(err)).To(BeTrue())
	})

	It("should reject unknown compression codecs", func() {
		buf := new(bytes.Buffer)
		w := kvtree.NewWriter(buf, nil)
		Expect(w.Append([]byte("a"), []byte("b"))).To(Succeed())
		Expect(w.Close()).To(Succeed())

		data := bytes.Replace(buf.Bytes(), []byte(`"compression":"none"`), []byte(`"compression":"nope"`), 1)
		_, err := kvtree.NewReader(bytes.NewReader(data), int64(len(data)), nil)
		Expect(err).To(MatchError(kvtree.ErrBadCompression))
	})

	It("should satisfy the single-character example", func() {
		buf := new(bytes.Buffer)
		w := kvtree.NewWriter(buf, &kvtree.WriterOptions{BlockSize: 40})
		for _, key := range []string{"a", "b", "c", "m", "z"} {
			Expect(w.Append([]byte(key), []byte(key+"-value"))).To(Succeed())
		}
		Expect(w.Close()).To(Succeed())

		reader, err := kvtree.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(reader.NumBlocks()).To(BeNumerically(">=", 2))

		iter, err := reader.Iterator()
		Expect(err).NotTo(HaveOccurred())
		defer iter.Release()

		Expect(iter.Find([]byte("c"))).To(BeTrue())
		Expect(iter.Key()).To(Equal([]byte("c")))
		Expect(iter.Value()).To(Equal([]byte("c-value")))

		_, err = reader.Get([]byte("d"))
		Expect(err).To(MatchError(kvtree.ErrNotFound))

		Expect(iter.Find([]byte("d"))).To(BeTrue())
		Expect(iter.Key()).To(Equal([]byte("m")))
		Expect(iter.Value()).To(Equal([]byte("m-value")))
	})

	Describe("Iterator", func() {
		var iter *kvtree.Iterator

		BeforeEach(func() {
			var err error
			iter, err = subject.Iterator()
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			iter.Release()
		})

		It("should iterate from beginning", func() {
			Expect(iter.Done()).To(BeFalse())
			Expect(iter.Key()).To(Equal(seedKey(0)))
			Expect(iter.Value()).To(HaveSuffix("00000000"))

			Expect(iter.Next()).To(BeTrue())
			Expect(iter.Key()).To(Equal(seedKey(1)))
			Expect(iter.Value()).To(HaveSuffix("00000004"))

			for i := 0; i < 97; i++ {
				Expect(iter.Next()).To(BeTrue())
			}

			Expect(iter.Next()).To(BeTrue())
			Expect(iter.Key()).To(Equal(seedKey(99)))
			Expect(iter.Value()).To(HaveSuffix("00000396"))

			Expect(iter.Next()).To(BeFalse())
			Expect(iter.Done()).To(BeTrue())
			Expect(iter.Key()).To(Equal(seedKey(99)))
			Expect(iter.Next()).To(BeFalse())
			Expect(iter.Err()).NotTo(HaveOccurred())
		})

		It("should iterate in ascending order", func() {
			keys := collectKeys(iter)
			Expect(keys).To(HaveLen(100))
			for i, key := range keys {
				Expect(key).To(Equal(string(seedKey(i))))
			}
		})

		It("should find", func() {
			Expect(iter.Find([]byte("key.000200"))).To(BeTrue())
			Expect(iter.Key()).To(Equal([]byte("key.000200")))

			Expect(iter.Find([]byte("key.000201"))).To(BeTrue())
			Expect(iter.Key()).To(Equal([]byte("key.000204")))

			// between blocks
			Expect(iter.Find([]byte("key.000110"))).To(BeTrue())
			Expect(iter.Key()).To(Equal([]byte("key.000112")))

			// backwards, within the block
			Expect(iter.Find([]byte("key.000200"))).To(BeTrue())
			Expect(iter.Find([]byte("key.000150"))).To(BeTrue())
			Expect(iter.Key()).To(Equal([]byte("key.000152")))

			// backwards, across blocks
			Expect(iter.Find([]byte("key.000010"))).To(BeTrue())
			Expect(iter.Key()).To(Equal([]byte("key.000012")))

			// before the first key
			Expect(iter.Find([]byte("a"))).To(BeTrue())
			Expect(iter.Key()).To(Equal(seedKey(0)))

			// past the end
			Expect(iter.Find([]byte("z"))).To(BeFalse())
			Expect(iter.Done()).To(BeTrue())
			Expect(iter.Key()).To(Equal(seedKey(99)))
			Expect(iter.Err()).NotTo(HaveOccurred())

			// and back again
			Expect(iter.Find([]byte("key.000300"))).To(BeTrue())
			Expect(iter.Done()).To(BeFalse())
			Expect(iter.Key()).To(Equal([]byte("key.000300")))
			Expect(iter.Next()).To(BeTrue())
			Expect(iter.Key()).To(Equal([]byte("key.000304")))
		})

		It("should skip forward", func() {
			Expect(iter.SkipTo([]byte("key.000008"))).To(BeTrue())
			Expect(iter.Key()).To(Equal([]byte("key.000008")))

			Expect(iter.SkipTo([]byte("key.000008"))).To(BeTrue())
			Expect(iter.Key()).To(Equal([]byte("key.000008")))

			Expect(iter.SkipTo([]byte("key.000110"))).To(BeTrue())
			Expect(iter.Key()).To(Equal([]byte("key.000112")))

			Expect(iter.SkipTo([]byte("key.000333"))).To(BeTrue())
			Expect(iter.Key()).To(Equal([]byte("key.000336")))

			Expect(iter.SkipTo([]byte("key.000396"))).To(BeTrue())
			Expect(iter.Key()).To(Equal([]byte("key.000396")))

			Expect(iter.SkipTo([]byte("key.000397"))).To(BeFalse())
			Expect(iter.Done()).To(BeTrue())
			Expect(iter.Key()).To(Equal([]byte("key.000396")))
		})

		It("should expose value ranges", func() {
			Expect(iter.ValueLength()).To(Equal(int64(128)))
			Expect(iter.ValueEnd() - iter.ValueStart()).To(Equal(int64(128)))

			prevEnd := iter.ValueEnd()
			Expect(iter.Next()).To(BeTrue())
			Expect(iter.ValueStart()).To(Equal(prevEnd))
			Expect(iter.ValueLength()).To(Equal(int64(128)))
		})

		It("should stream values", func() {
			Expect(iter.Find(seedKey(50))).To(BeTrue())

			stream, err := iter.ValueStream()
			Expect(err).NotTo(HaveOccurred())
			Expect(stream.Size()).To(Equal(int64(128)))

			val, err := readAll(stream)
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(HaveLen(128))
			Expect(val).To(HaveSuffix("00000200"))

			stream, err = iter.SubValueStream(120, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(readAll(stream)).To(Equal("0000"))

			stream, err = iter.SubValueStream(124, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(stream.Size()).To(Equal(int64(4)))
			Expect(readAll(stream)).To(Equal("0200"))

			stream, err = iter.SubValueStream(500, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(readAll(stream)).To(BeEmpty())
		})
	})

	Describe("files", func() {
		var dir string

		BeforeEach(func() {
			var err error
			dir, err = ioutil.TempDir("", "kvtree-test")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			Expect(os.RemoveAll(dir)).To(Succeed())
		})

		It("should create and open", func() {
			fname := filepath.Join(dir, "sub", "test.kvt")
			w, err := kvtree.Create(fname, seedOptions)
			Expect(err).NotTo(HaveOccurred())
			Expect(seedWriter(w, 100)).To(Succeed())
			Expect(w.Close()).To(Succeed())

			Expect(kvtree.IsBTree(fname)).To(BeTrue())

			for _, mmap := range []bool{false, true} {
				reader, err := kvtree.Open(fname, &kvtree.ReaderOptions{Mmap: mmap})
				Expect(err).NotTo(HaveOccurred())
				Expect(reader.NumBlocks()).To(Equal(4))
				Expect(reader.Manifest().GetString(kvtree.ManifestFilename, "")).To(Equal(fname))
				Expect(reader.Get(seedKey(77))).To(HaveSuffix("00000308"))

				iter, err := reader.Iterator()
				Expect(err).NotTo(HaveOccurred())
				Expect(collectKeys(iter)).To(HaveLen(100))
				iter.Release()

				Expect(reader.Close()).To(Succeed())
			}
		})

		It("should detect non-btree files", func() {
			fname := filepath.Join(dir, "junk")
			Expect(ioutil.WriteFile(fname, bytes.Repeat([]byte("junk"), 20), 0644)).To(Succeed())
			Expect(kvtree.IsBTree(fname)).To(BeFalse())

			_, err := kvtree.Open(fname, nil)
			Expect(kvtree.IsFormatError(err)).To(BeTrue())

			empty := filepath.Join(dir, "empty")
			Expect(ioutil.WriteFile(empty, nil, 0644)).To(Succeed())
			Expect(kvtree.IsBTree(empty)).To(BeFalse())

			_, err = kvtree.Open(empty, &kvtree.ReaderOptions{Mmap: true})
			Expect(errors.Cause(err)).To(Equal(kvtree.ErrTruncated))
		})
	})
})
